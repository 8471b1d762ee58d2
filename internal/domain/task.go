package domain

// Task is one environment-deployment request and the unit of isolation. The
// model is mutated in place while the task runs and is published back on the
// results exchange once the task reaches a fixed point.
type Task struct {
	ID       string
	Token    string
	TenantID string
	Model    Model
}

// NewTask builds a task from an inbound message body. The body itself becomes
// the model, so mutations are visible to the caller that publishes the
// result.
func NewTask(body map[string]any) (*Task, error) {
	if body == nil {
		return nil, NewDomainError(ErrCodeInvalidInput, "task message has no body", nil)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return nil, NewDomainError(ErrCodeInvalidInput, "task message has no id", nil)
	}
	token, _ := body["token"].(string)
	tenant, _ := body["tenant_id"].(string)
	return &Task{
		ID:       id,
		Token:    token,
		TenantID: tenant,
		Model:    body,
	}, nil
}

// EnvironmentName is the stack name shared by every command of the task.
func (t *Task) EnvironmentName() string {
	return "e" + t.ID
}

// StopRequested reports whether a rule wrote the stop sentinel.
func (t *Task) StopRequested() bool {
	temp, ok := t.Model["temp"].(map[string]any)
	if !ok {
		return false
	}
	stop, ok := temp["_stop_requested"].(bool)
	return ok && stop
}

// Cleanup strips the fields that must never leave the engine: the
// authentication token, the root temp section, and the temp section of every
// service and unit entry. Services may be laid out either as a flat sequence
// or as a mapping from service type to sequences.
func (t *Task) Cleanup() {
	delete(t.Model, "token")
	delete(t.Model, "temp")

	switch services := t.Model["services"].(type) {
	case []any:
		cleanupServices(services)
	case map[string]any:
		for _, group := range services {
			if list, ok := group.([]any); ok {
				cleanupServices(list)
			}
		}
	}
}

func cleanupServices(services []any) {
	for _, entry := range services {
		service, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		delete(service, "temp")
		units, ok := service["units"].([]any)
		if !ok {
			continue
		}
		for _, u := range units {
			if unit, ok := u.(map[string]any); ok {
				delete(unit, "temp")
			}
		}
	}
}

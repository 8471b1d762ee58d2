// Package agentplan builds execution plans: the YAML-defined script bundles
// delivered to a unit's on-instance agent.
package agentplan

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Load reads a plan template, resolves and embeds its script files, and
// returns the finished plan together with its fresh unique id. Plans without
// a FormatVersion, or with one starting "1.", follow the v1 format; anything
// else follows v2.
func Load(path string) (map[string]any, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("cannot read execution plan %s: %w", path, err)
	}
	var plan map[string]any
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return nil, "", fmt.Errorf("incorrect execution plan %s: %w", path, err)
	}
	if plan == nil {
		return nil, "", fmt.Errorf("incorrect execution plan %s: not a mapping", path)
	}

	scriptsDir := filepath.Join(filepath.Dir(path), "scripts")
	formatVersion, _ := plan["FormatVersion"].(string)
	if formatVersion == "" || strings.HasPrefix(formatVersion, "1.") {
		id, err := buildV1(plan, scriptsDir)
		return plan, id, err
	}
	id, err := buildV2(plan, scriptsDir)
	return plan, id, err
}

// buildV1 inlines every script as a base64 string in place.
func buildV1(plan map[string]any, scriptsDir string) (string, error) {
	names, _ := plan["Scripts"].([]any)
	scripts := make([]any, 0, len(names))
	for _, name := range names {
		scriptPath := filepath.Join(scriptsDir, fmt.Sprint(name))
		body, err := os.ReadFile(scriptPath)
		if err != nil {
			return "", fmt.Errorf("cannot read script %s: %w", scriptPath, err)
		}
		scripts = append(scripts, base64.StdEncoding.EncodeToString(body))
	}
	plan["Scripts"] = scripts
	return uuid.New().String(), nil
}

// buildV2 assigns the plan id, defaults the action, and places each file
// referenced by a script into the Files section exactly once. Names wrapped
// in angle brackets embed base64; everything else embeds as text.
func buildV2(plan map[string]any, scriptsDir string) (string, error) {
	planID := uuid.New().String()
	plan["ID"] = planID
	if _, ok := plan["Action"]; !ok {
		plan["Action"] = "Execute"
	}
	files, _ := plan["Files"].(map[string]any)
	if files == nil {
		files = map[string]any{}
		plan["Files"] = files
	}

	// byName deduplicates placements: file name -> file id.
	byName := map[string]string{}
	for fileID, descriptor := range files {
		if fields, ok := descriptor.(map[string]any); ok {
			if name, ok := fields["Name"].(string); ok {
				byName[name] = fileID
			}
		}
	}

	scripts, _ := plan["Scripts"].(map[string]any)
	for name, rawScript := range scripts {
		script, ok := rawScript.(map[string]any)
		if !ok {
			return "", fmt.Errorf("script %s is not a mapping", name)
		}
		entryPoint, ok := script["EntryPoint"].(string)
		if !ok || entryPoint == "" {
			return "", fmt.Errorf("no entry point in script %s", name)
		}
		placed, err := placeFile(scriptsDir, entryPoint, files, byName)
		if err != nil {
			return "", err
		}
		script["EntryPoint"] = placed

		if extra, ok := script["Files"].([]any); ok {
			for i, fileName := range extra {
				placed, err := placeFile(scriptsDir, fmt.Sprint(fileName), files, byName)
				if err != nil {
					return "", err
				}
				extra[i] = placed
			}
		}
	}
	return planID, nil
}

func placeFile(dir, name string, files map[string]any, byName map[string]string) (string, error) {
	useBase64 := false
	if strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">") {
		useBase64 = true
		name = name[1 : len(name)-1]
	}
	if fileID, ok := byName[name]; ok {
		return fileID, nil
	}

	body, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("cannot read file %s: %w", name, err)
	}
	bodyType := "Text"
	encoded := string(body)
	if useBase64 {
		bodyType = "Base64"
		encoded = base64.StdEncoding.EncodeToString(body)
	}

	fileID := uuid.New().String()
	files[fileID] = map[string]any{
		"Name":     name,
		"BodyType": bodyType,
		"Body":     encoded,
	}
	byName[name] = fileID
	return fileID, nil
}

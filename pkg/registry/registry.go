// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

func New(version string, now time.Time) *ActivityRegistry {
	return &ActivityRegistry{Version: version, LastUpdated: now.UTC().Format(time.RFC3339)}
}

// Add registers a; task types must be unique.
func (r *ActivityRegistry) Add(a Activity) error {
	if a.TaskType == "" {
		return fmt.Errorf("activity %q has no task type", a.ID)
	}
	if _, ok := r.Find(a.TaskType); ok {
		return fmt.Errorf("task type %q already registered", a.TaskType)
	}
	r.Activities = append(r.Activities, a)
	sort.Slice(r.Activities, func(i, j int) bool { return r.Activities[i].TaskType < r.Activities[j].TaskType })
	return nil
}

func (r *ActivityRegistry) Find(taskType string) (Activity, bool) {
	for _, a := range r.Activities {
		if a.TaskType == taskType {
			return a, true
		}
	}
	return Activity{}, false
}

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ActivityRegistry
	err = json.Unmarshal(data, &reg)
	return &reg, err
}

func (r *ActivityRegistry) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

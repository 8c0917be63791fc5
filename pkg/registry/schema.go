// pkg/registry/schema.go
package registry

// ActivityRegistry lists the BPMN service tasks this deployment can serve.
type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

type Activity struct {
	ID          string                 `json:"id"`
	DisplayName string                 `json:"displayName"`
	Description string                 `json:"description"`
	TaskType    string                 `json:"taskType"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	// BPMNErrorCode is the code a failed job is reported under.
	BPMNErrorCode string   `json:"bpmnErrorCode"`
	ErrorCodes    []string `json:"errorCodes,omitempty"`
	Timeout       string   `json:"timeout"`
	Enabled       bool     `json:"enabled"`
}

package runreminderjob

// GetInputSchema describes the process variables this worker reads. Other
// process variables are allowed through.
func GetInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"jobRunId": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
				"maxLength": 100,
			},
			"date": map[string]interface{}{
				"type":    "string",
				"pattern": `^\d{4}-\d{2}-\d{2}$`,
			},
		},
	}
}

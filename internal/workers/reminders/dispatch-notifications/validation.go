package dispatchnotifications

func GetInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"maxBatches": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": 1000,
			},
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// parseEnvPairs turns KEY=VALUE pairs into a map. Malformed entries are
// dropped.
func parseEnvPairs(kvs []string) map[string]string {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

package run

import (
	"os"
	"strings"
)

// BaseEnv builds an environment slice from the allow-listed variables
// of the current process. Variables that are unset or empty are
// omitted so child processes see only what was deliberately passed.
func BaseEnv(allowed []string) []string {
	env := make([]string, 0, len(allowed))
	for _, key := range allowed {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	return env
}

// MergeEnv merges additional KEY=VALUE entries into a base env.
// Later values override earlier ones.
func MergeEnv(base []string, additional ...string) []string {
	result := make([]string, len(base))
	copy(result, base)

	for _, add := range additional {
		parts := strings.SplitN(add, "=", 2)
		if len(parts) == 2 {
			result = setEnvKey(result, parts[0], parts[1])
		}
	}

	return result
}

// HasEnvKey checks if an environment key is already set in the slice.
func HasEnvKey(env []string, key string) bool {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// WithoutEnvPrefix removes every variable whose name starts with the
// given prefix. The fast test scope uses this to guarantee no host
// runtime configuration leaks into tests that must not depend on one.
func WithoutEnvPrefix(env []string, prefix string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		name, _, ok := strings.Cut(e, "=")
		if ok && strings.HasPrefix(name, prefix) {
			continue
		}
		result = append(result, e)
	}
	return result
}

// setEnvKey sets or updates an environment variable.
func setEnvKey(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = key + "=" + value
			return env
		}
	}
	return append(env, key+"="+value)
}

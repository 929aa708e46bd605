package stage

import "context"

// Health is a stage's readiness before a run, as shown by doctor.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// HealthChecker is implemented by handlers that can report readiness before a run.
type HealthChecker interface {
	HealthCheck(context.Context) Health
}

// CheckHealth asks st's handler for its readiness. ok is false for disabled
// stages and for handlers without a check.
func CheckHealth(ctx context.Context, st Stage) (Health, bool) {
	if st.Disabled != "" {
		return Health{}, false
	}
	checker, ok := st.Handler.(HealthChecker)
	if !ok {
		return Health{}, false
	}
	return checker.HealthCheck(ctx), true
}

package layout

// PropResolver produces the props of one section from the fact record.
type PropResolver func(uc *UserContext) map[string]any

// Registry maps section keys to prop resolvers. It is populated at start-up
// and read concurrently afterwards.
type Registry struct {
	resolvers map[string]PropResolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]PropResolver)}
}

// DefaultRegistry returns a registry with every built-in section key.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("sprint_board", func(uc *UserContext) map[string]any {
		return map[string]any{"projectId": uc.ProjectID, "sprintStatus": uc.SprintStatus}
	})
	r.Register("kanban_board", projectOnly)
	r.Register("backlog_panel", projectOnly)
	r.Register("analytics_panel", func(uc *UserContext) map[string]any {
		return map[string]any{"projectId": uc.ProjectID, "role": uc.Role}
	})
	r.Register("my_issues", func(uc *UserContext) map[string]any {
		return map[string]any{"projectId": uc.ProjectID, "userId": uc.UserID}
	})
	r.Register("sprint_timer", func(uc *UserContext) map[string]any {
		return map[string]any{"projectId": uc.ProjectID, "sprintStatus": uc.SprintStatus}
	})
	r.Register("sprint_planning", projectOnly)
	r.Register("overdue_alert", projectOnly)
	r.Register("open_bugs_alert", func(uc *UserContext) map[string]any {
		return map[string]any{"projectId": uc.ProjectID, "openBugs": uc.OpenBugs}
	})
	r.Register("sprint_completion", projectOnly)
	r.Register("activity_feed", projectOnly)
	return r
}

func projectOnly(uc *UserContext) map[string]any {
	return map[string]any{"projectId": uc.ProjectID}
}

// Register installs fn for key, replacing any previous resolver.
func (r *Registry) Register(key string, fn PropResolver) {
	r.resolvers[key] = fn
}

// Len returns the number of registered section keys.
func (r *Registry) Len() int {
	return len(r.resolvers)
}

// Resolve returns the props for key. An unregistered key yields empty props
// and a warning.
func (r *Registry) Resolve(key string, uc *UserContext) map[string]any {
	fn, ok := r.resolvers[key]
	if !ok {
		logf("[LayoutResolver] No prop resolver for section: %q", key)
		return map[string]any{}
	}
	return fn(uc)
}

package auth

import "context"

type subjectKey struct{}

// WithSubject stores the authenticated caller on ctx.
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the caller stored by WithSubject, or nil when
// the request was not authenticated.
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

// CallerName names the caller for logs; "anonymous" when auth is disabled.
func CallerName(ctx context.Context) string {
	if s := SubjectFromContext(ctx); s != nil && s.Name != "" {
		return s.Name
	}
	return "anonymous"
}

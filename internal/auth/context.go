package auth

import "context"

// AnonymousSubject 是未启用认证时 API 调用方的标识。
const AnonymousSubject = "anonymous"

type subjectKey struct{}

// WithSubject 把通过认证的调用方挂到请求上下文，subject 为 nil 时原样返回。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 返回请求的调用方，未经过认证中间件时 ok 为 false。
func SubjectFromContext(ctx context.Context) (subject *Subject, ok bool) {
	if ctx == nil {
		return nil, false
	}
	subject, ok = ctx.Value(subjectKey{}).(*Subject)
	return subject, ok && subject != nil
}

// SubjectID 返回调用方标识，没有认证信息时返回 AnonymousSubject。
func SubjectID(ctx context.Context) string {
	if subject, ok := SubjectFromContext(ctx); ok && subject.ID != "" {
		return subject.ID
	}
	return AnonymousSubject
}

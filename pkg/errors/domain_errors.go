package errors

var (
	ErrAuth          = New(CodeUnauthenticated, "invalid or missing credential")
	ErrNotMember     = New(CodeNotMember, "not a member of this conversation")
	ErrEmptyContent  = InvalidArg("content cannot be empty")
	ErrContentTooBig = InvalidArg("content exceeds maximum length")
	ErrInvalidUTF8   = InvalidArg("content must be valid UTF-8")
	ErrSelfPrivate   = InvalidArg("a private conversation needs two distinct users")
	ErrGroupTooSmall = InvalidArg("a group conversation needs at least two distinct members")
	ErrMissingOrg    = InvalidArg("a group conversation must belong to an organization")
	ErrForbidden     = Forbidden("not allowed in this organization")
	ErrNotFound      = NotFound("not found")
	ErrPersistence   = New(CodePersistence, "storage failure")
	ErrUnknownFrame  = InvalidArg("unknown frame type")
	ErrMalformed     = InvalidArg("malformed frame")
	ErrRateLimited   = New(CodeRateLimited, "too many frames, slow down")
)

package errs

const (
	ServerInternalError = 500
	ArgsError           = 1001
	RecordNotFoundError = 1004
	RecordExistError    = 1005
	UnknownMessageError = 1006

	ForbiddenError    = 1403
	TokenMissingError = 1401

	AuthError                  = 1500
	TokenMalformedError        = 1501
	TokenExpiredError          = 1502
	TokenSignatureInvalidError = 1503
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFoundError")
	ErrRecordExist    = NewCodeError(RecordExistError, "RecordExistError")
	ErrUnknownMessage = NewCodeError(UnknownMessageError, "UnknownMessageError")
	ErrForbidden      = NewCodeError(ForbiddenError, "Forbidden")
	ErrTokenMissing   = NewCodeError(TokenMissingError, "TokenMissingError")

	ErrAuth                  = NewCodeError(AuthError, "AuthError")
	ErrTokenMalformed        = NewCodeError(TokenMalformedError, "TokenMalformedError")
	ErrTokenExpired          = NewCodeError(TokenExpiredError, "TokenExpiredError")
	ErrTokenSignatureInvalid = NewCodeError(TokenSignatureInvalidError, "TokenSignatureInvalidError")
)

func init() {
	_ = DefaultCodeRelation.Add(AuthError, TokenMalformedError)
	_ = DefaultCodeRelation.Add(AuthError, TokenExpiredError)
	_ = DefaultCodeRelation.Add(AuthError, TokenSignatureInvalidError)
}

package apierror

import "strconv"

// Code identifies the kind of an Error. Values 100-599 mirror HTTP status
// codes; values from 14000 upward are raised by the SDK itself.
type Code int

const (
	None Code = 0

	BadRequest                   Code = 400
	Unauthorized                 Code = 401
	PaymentRequired              Code = 402
	Forbidden                    Code = 403
	NotFound                     Code = 404
	MethodNotAllowed             Code = 405
	NotAcceptable                Code = 406
	ProxyAuthenticationRequired  Code = 407
	RequestTimeout               Code = 408
	Conflict                     Code = 409
	Gone                         Code = 410
	LengthRequired               Code = 411
	PreconditionFailed           Code = 412
	RequestEntityTooLarge        Code = 413
	RequestURITooLong            Code = 414
	UnsupportedMediaType         Code = 415
	RequestedRangeNotSatisfiable Code = 416
	ExpectationFailed            Code = 417
	Teapot                       Code = 418
	MisdirectedRequest           Code = 421
	UnprocessableEntity          Code = 422
	Locked                       Code = 423
	FailedDependency             Code = 424
	UpgradeRequired              Code = 426
	PreconditionRequired         Code = 428
	HTTPTooManyRequests          Code = 429
	RequestHeaderFieldsTooLarge  Code = 431
	RetryWith                    Code = 449
	UnavailableForLegalReasons   Code = 451

	InternalServerError           Code = 500
	NotImplemented                Code = 501
	BadGateway                    Code = 502
	ServiceUnavailable            Code = 503
	GatewayTimeout                Code = 504
	HTTPVersionNotSupported       Code = 505
	VariantAlsoNegotiates         Code = 506
	InsufficientStorage           Code = 507
	LoopDetected                  Code = 508
	NotExtended                   Code = 510
	NetworkAuthenticationRequired Code = 511

	GeneralClientError Code = 14000
	ErrorFromException Code = 14001
	InvalidArgument    Code = 14002
	InvalidRequest     Code = 14003
	InvalidResponse    Code = 14004
	NetworkError       Code = 14005
	IsNotLoggedIn      Code = 14006
	CachedTokenExpired Code = 14303
)

var codeNames = map[Code]string{
	None:                          "NONE",
	BadRequest:                    "BAD_REQUEST",
	Unauthorized:                  "UNAUTHORIZED",
	PaymentRequired:               "PAYMENT_REQUIRED",
	Forbidden:                     "FORBIDDEN",
	NotFound:                      "NOT_FOUND",
	MethodNotAllowed:              "METHOD_NOT_ALLOWED",
	NotAcceptable:                 "NOT_ACCEPTABLE",
	ProxyAuthenticationRequired:   "PROXY_AUTHENTICATION_REQUIRED",
	RequestTimeout:                "REQUEST_TIMEOUT",
	Conflict:                      "CONFLICT",
	Gone:                          "GONE",
	LengthRequired:                "LENGTH_REQUIRED",
	PreconditionFailed:            "PRECONDITION_FAILED",
	RequestEntityTooLarge:         "REQUEST_ENTITY_TOO_LARGE",
	RequestURITooLong:             "REQUEST_URI_TOO_LONG",
	UnsupportedMediaType:          "UNSUPPORTED_MEDIA_TYPE",
	RequestedRangeNotSatisfiable:  "REQUESTED_RANGE_NOT_SATISFIABLE",
	ExpectationFailed:             "EXPECTATION_FAILED",
	Teapot:                        "STATUS_TEAPOT",
	MisdirectedRequest:            "STATUS_MISDIRECTED_REQUEST",
	UnprocessableEntity:           "UNPROCESSABLE_ENTITY",
	Locked:                        "STATUS_LOCKED",
	FailedDependency:              "STATUS_FAILED_DEPENDENCY",
	UpgradeRequired:               "STATUS_UPGRADE_REQUIRED",
	PreconditionRequired:          "STATUS_PRECONDITION_REQUIRED",
	HTTPTooManyRequests:           "HTTP_TOO_MANY_REQUESTS",
	RequestHeaderFieldsTooLarge:   "STATUS_REQUEST_HEADER_FIELDS_TOO_LARGE",
	RetryWith:                     "RETRY_WITH",
	UnavailableForLegalReasons:    "STATUS_UNAVAILABLE_FOR_LEGAL_REASONS",
	InternalServerError:           "INTERNAL_SERVER_ERROR",
	NotImplemented:                "NOT_IMPLEMENTED",
	BadGateway:                    "BAD_GATEWAY",
	ServiceUnavailable:            "SERVICE_UNAVAILABLE",
	GatewayTimeout:                "GATEWAY_TIMEOUT",
	HTTPVersionNotSupported:       "HTTP_VERSION_NOT_SUPPORTED",
	VariantAlsoNegotiates:         "STATUS_VARIANT_ALSO_NEGOTIATES",
	InsufficientStorage:           "STATUS_INSUFFICIENT_STORAGE",
	LoopDetected:                  "STATUS_LOOP_DETECTED",
	NotExtended:                   "STATUS_NOT_EXTENDED",
	NetworkAuthenticationRequired: "STATUS_NETWORK_AUTHENTICATION_REQUIRED",
	GeneralClientError:            "GENERAL_CLIENT_ERROR",
	ErrorFromException:            "ERROR_FROM_EXCEPTION",
	InvalidArgument:               "INVALID_ARGUMENT",
	InvalidRequest:                "INVALID_REQUEST",
	InvalidResponse:               "INVALID_RESPONSE",
	NetworkError:                  "NETWORK_ERROR",
	IsNotLoggedIn:                 "IS_NOT_LOGGED_IN",
	CachedTokenExpired:            "CACHED_TOKEN_EXPIRED",
}

var defaultMessages = map[Code]string{
	None:                         "This error code doesn't make sense and should not happen at all.",
	BadRequest:                   "The request could not be understood by the server due to malformed syntax.",
	Unauthorized:                 "The request requires user authentication.",
	PaymentRequired:              "The request requires a payment.",
	Forbidden:                    "The server understood the request, but is refusing to fulfill it.",
	NotFound:                     "The server has not found anything matching the Request-URI.",
	MethodNotAllowed:             "The method specified in the Request-Line is not allowed for the resource identified by the Request-URI.",
	NotAcceptable:                "The resource identified by the request can not generate content according to the accept headers sent in the request.",
	ProxyAuthenticationRequired:  "The request requires user authentication via proxy.",
	RequestTimeout:               "The client did not produce a request within the time that the server was prepared to wait.",
	Conflict:                     "The request could not be completed due to a conflict with the current state of the resource.",
	Gone:                         "The requested resource is no longer available at the server and no forwarding address is known.",
	LengthRequired:               "The server refuses to accept the request without a defined Content-Length.",
	PreconditionFailed:           "The precondition given in one or more of the request-header fields evaluated to false when it was tested on the server.",
	RequestEntityTooLarge:        "The request entity is larger than the server is willing or able to process.",
	RequestURITooLong:            "The Request-URI is longer than the server is willing to interpret.",
	UnsupportedMediaType:         "The entity of the request is in a format not supported by the requested resource for the requested method.",
	RequestedRangeNotSatisfiable: "The request included a Range request-header field that does not overlap the current extent of the selected resource.",
	ExpectationFailed:            "The expectation given in an Expect request-header field could not be met by this server.",
	UnprocessableEntity:          "Entity can not be processed.",
	HTTPTooManyRequests:          "The client has sent too many requests in a given amount of time.",
	RetryWith:                    "The request should be retried after performing the appropriate action.",
	InternalServerError:          "Unexpected condition encountered which prevented the server from fulfilling the request.",
	NotImplemented:               "The server does not support the functionality required to fulfill the request.",
	BadGateway:                   "The gateway or proxy received an invalid response from the upstream server.",
	ServiceUnavailable:           "The server is currently unable to handle the request due to a temporary overloading or maintenance of the server.",
	GatewayTimeout:               "The gateway or proxy, did not receive a timely response from the upstream server.",
	HTTPVersionNotSupported:      "The server does not support the HTTP protocol version that was used in the request message.",
	ErrorFromException:           "An unexpected failure occurred while handling the request or response.",
	InvalidRequest:               "The request is malformed and was not sent.",
	InvalidResponse:              "The response could not be interpreted.",
	NetworkError:                 "There is no response.",
	IsNotLoggedIn:                "A bearer token is required but none is set.",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

// DefaultMessage returns the static description used when an Error is
// created without a message.
func (c Code) DefaultMessage() string {
	if msg, ok := defaultMessages[c]; ok {
		return msg
	}
	return "Unknown error: " + c.String()
}

// IsHTTPStatus reports whether the code mirrors an HTTP status.
func (c Code) IsHTTPStatus() bool {
	return c >= 100 && c < 600
}

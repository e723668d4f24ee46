package protocol

// Request is the JSON object a client sends for every action.
type Request struct {
	Action         string `json:"action"`
	Location       string `json:"location,omitempty"`
	Username       string `json:"username,omitempty"`
	CredentialHash string `json:"credentialHash,omitempty"`
}

// Response is the JSON object the server sends for every request.
type Response struct {
	Successful bool   `json:"successful"`
	Error      string `json:"error,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Client-visible error messages.
const (
	MsgNoLocation         = "no location"
	MsgFileNotFound       = "file not found"
	MsgNotLoggedIn        = "not logged in"
	MsgInvalidAction      = "invalid action"
	MsgAlreadyLoggedIn    = "already logged in"
	MsgMissingCredentials = "missing username or credential"
	MsgUserExists         = "user already exists"
	MsgInvalidCredentials = "invalid username or password"
	MsgServerBusy         = "server busy, retry later"
	MsgQuotaExceeded      = "quota exceeded"
	MsgInternal           = "internal error"
	MsgMalformedRequest   = "malformed request"
)

func OK() Response {
	return Response{Successful: true}
}

func Fail(msg string) Response {
	return Response{Successful: false, Error: msg}
}

// Package protocol implements the client/server wire format: length-prefixed
// JSON frames, the closed set of actions, and the chunked content stream
// that carries file bytes after a frame.
package protocol

// Action is one of the verbs a client may send. The set is closed; anything
// else on the wire parses to ActionUnknown.
type Action int

const (
	ActionUnknown Action = iota
	ActionCreateUser
	ActionLogin
	ActionDisconnect
	ActionGetKeyFile
	ActionUpdateKeyFile
	ActionGetFile
	ActionUpdateFile
	ActionUploadFile
	ActionRemoveFile
)

var actionNames = map[Action]string{
	ActionCreateUser:    "createUser",
	ActionLogin:         "login",
	ActionDisconnect:    "disconnect",
	ActionGetKeyFile:    "getKeyFile",
	ActionUpdateKeyFile: "updateKeyFile",
	ActionGetFile:       "getFile",
	ActionUpdateFile:    "updateFile",
	ActionUploadFile:    "uploadFile",
	ActionRemoveFile:    "removeFile",
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, len(actionNames))
	for a, name := range actionNames {
		m[name] = a
	}
	return m
}()

// Actions returns every known action in declaration order.
func Actions() []Action {
	return []Action{
		ActionCreateUser, ActionLogin, ActionDisconnect,
		ActionGetKeyFile, ActionUpdateKeyFile,
		ActionGetFile, ActionUpdateFile, ActionUploadFile, ActionRemoveFile,
	}
}

// ParseAction maps a wire verb to its Action. Matching is exact.
func ParseAction(s string) Action {
	if a, ok := actionsByName[s]; ok {
		return a
	}
	return ActionUnknown
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// HasRequestContent reports whether a content stream follows the request
// frame for this action.
func (a Action) HasRequestContent() bool {
	switch a {
	case ActionUpdateKeyFile, ActionUpdateFile, ActionUploadFile:
		return true
	}
	return false
}

// HasResponseContent reports whether a successful response to this action
// is followed by a content stream.
func (a Action) HasResponseContent() bool {
	return a == ActionGetKeyFile || a == ActionGetFile
}

// RequiresLocation reports whether the request must name a file.
func (a Action) RequiresLocation() bool {
	switch a {
	case ActionGetFile, ActionUpdateFile, ActionRemoveFile:
		return true
	}
	return false
}

package packet

// ErrCode is the numeric result code carried at the start of every response.
type ErrCode int32

const (
	Success          ErrCode = 0
	UnknownError     ErrCode = 1
	InvalidParams    ErrCode = 2
	NotAuthenticated ErrCode = 3
	UnknownMessage   ErrCode = 4
	InternalError    ErrCode = 5

	LoginFailed    ErrCode = 100
	RegisterFailed ErrCode = 101
	UsernameExists ErrCode = 102
	AccountBanned  ErrCode = 103
	TokenInvalid   ErrCode = 104

	PlayerNotFound ErrCode = 200
	PlayerLimit    ErrCode = 201
	NameExists     ErrCode = 202
	NoPlayer       ErrCode = 203

	SceneNotFound ErrCode = 300
	NotInScene    ErrCode = 301
)

func (c ErrCode) String() string {
	switch c {
	case Success:
		return "Success"
	case UnknownError:
		return "UnknownError"
	case InvalidParams:
		return "InvalidParams"
	case NotAuthenticated:
		return "NotAuthenticated"
	case UnknownMessage:
		return "UnknownMessage"
	case InternalError:
		return "InternalError"
	case LoginFailed:
		return "LoginFailed"
	case RegisterFailed:
		return "RegisterFailed"
	case UsernameExists:
		return "UsernameExists"
	case AccountBanned:
		return "AccountBanned"
	case TokenInvalid:
		return "TokenInvalid"
	case PlayerNotFound:
		return "PlayerNotFound"
	case PlayerLimit:
		return "PlayerLimit"
	case NameExists:
		return "NameExists"
	case NoPlayer:
		return "NoPlayer"
	case SceneNotFound:
		return "SceneNotFound"
	case NotInScene:
		return "NotInScene"
	default:
		return "Unknown"
	}
}

// ErrorPayload builds the body of an Error frame: [D code][S message].
func ErrorPayload(code ErrCode, msg string) []byte {
	w := NewWriter()
	w.WriteD(int32(code))
	w.WriteS(msg)
	return w.Bytes()
}

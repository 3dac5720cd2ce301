package chat

var (
	ErrNameTaken    = errorString("username_taken")
	ErrNameInvalid  = errorString("username_invalid")
	ErrNameReserved = errorString("username_reserved")
	ErrRoomExists   = errorString("room_exists")
	ErrRoomNotFound = errorString("room_not_found")
	ErrBadPassword  = errorString("bad_password")
	ErrDecode       = errorString("invalid_utf8")
)

type errorString string

func (e errorString) Error() string { return string(e) }

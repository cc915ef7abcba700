package dispatch

// EventKind is the closed set of push events the bot acts on.
type EventKind uint8

const (
	KindSysMsg  EventKind = iota + 1 // small-TV announcement
	KindSysGift                      // raffle announcement
	kindEnd
)

var kindNames = [kindEnd]string{
	KindSysMsg:  "SYS_MSG",
	KindSysGift: "SYS_GIFT",
}

func (k EventKind) String() string {
	if k > 0 && k < kindEnd {
		return kindNames[k]
	}
	return "UNKNOWN"
}

func (k EventKind) valid() bool { return k > 0 && k < kindEnd }

// ParseKind maps a stream command name to its kind.
func ParseKind(cmd string) (EventKind, bool) {
	for k := KindSysMsg; k < kindEnd; k++ {
		if kindNames[k] == cmd {
			return k, true
		}
	}
	return 0, false
}

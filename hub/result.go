package hub

// Outcome tells the handler boundary what to do after one inbound message.
type Outcome int

const (
	// OutcomeOK: handled; any replies were already sent.
	OutcomeOK Outcome = iota
	// OutcomeIgnored: logged, no reply.
	OutcomeIgnored
	// OutcomeReplyError: logged and reported to the sender as a log
	// message with level error. The connection stays open.
	OutcomeReplyError
	// OutcomeClose: reported to the sender, then the connection is closed
	// and removed from the registry.
	OutcomeClose
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeReplyError:
		return "reply_error"
	case OutcomeClose:
		return "close"
	}
	return "unknown"
}

// Result is the value every message handler returns instead of raising.
type Result struct {
	Outcome Outcome
	// Reply is the text sent to the client for ReplyError and Close.
	Reply string
	Err   error
}

func ok() Result { return Result{Outcome: OutcomeOK} }

func ignored(err error) Result { return Result{Outcome: OutcomeIgnored, Err: err} }

func replyError(reply string, err error) Result {
	return Result{Outcome: OutcomeReplyError, Reply: reply, Err: err}
}

func closeConn(reply string, err error) Result {
	return Result{Outcome: OutcomeClose, Reply: reply, Err: err}
}

package orchestrator

// State is where an instance is in its start sequence.
type State string

const (
	StateIdle              State = "idle"
	StateCheckingInstalled State = "checking_installed"
	StateDownloading       State = "downloading"
	StateLaunching         State = "launching"
	StateUpdating          State = "updating"
	StateErrored           State = "errored"
)

// IsBusy reports whether a start attempt is in progress.
func (s State) IsBusy() bool {
	switch s {
	case StateCheckingInstalled, StateDownloading, StateLaunching, StateUpdating:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

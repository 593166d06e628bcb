package download

import "fmt"

type (
	TroubleType int

	// Trouble is the error returned by the executor when a job fails. The
	// type identifies the stage which failed, so that callers can
	// distinguish (for example) a failed download from a failed mux.
	Trouble struct {
		error
		tType TroubleType
	}
)

const (
	WorkspaceFailure TroubleType = iota
	DownloadFailure
	NoMediaProduced
	MuxFailure
	Cancelled
)

func newTrouble(tType TroubleType, err error) Trouble {
	return Trouble{error: err, tType: tType}
}

func (t Trouble) Type() TroubleType { return t.tType }

func (t Trouble) Unwrap() error { return t.error }

func (t TroubleType) String() string {
	switch t {
	case WorkspaceFailure:
		return fmt.Sprintf("WORKSPACE_FAILURE[%d]", t)
	case DownloadFailure:
		return fmt.Sprintf("DOWNLOAD_FAILURE[%d]", t)
	case NoMediaProduced:
		return fmt.Sprintf("NO_MEDIA_PRODUCED[%d]", t)
	case MuxFailure:
		return fmt.Sprintf("MUX_FAILURE[%d]", t)
	case Cancelled:
		return fmt.Sprintf("CANCELLED[%d]", t)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", t)
	}
}

package training

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ProgressLog is the append-only tab-separated batch log consumed by
// external progress monitors. One line is appended per batch processed; the
// file is opened and closed around each append so monitors always see
// complete lines.
type ProgressLog struct {
	fs   afero.Fs
	path string
	now  func() time.Time
}

// OpenProgressLog creates the log at path, writing the header line if the
// file does not exist yet.
func OpenProgressLog(fs afero.Fs, path string) (*ProgressLog, error) {
	pl := &ProgressLog{fs: fs, path: path, now: time.Now}
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "checking progress log")
	}
	if !exists {
		if err := pl.append(tsvLine("ep_idx", "phase", "iter", "i_p_ep", "time")); err != nil {
			return nil, errors.Wrap(err, "writing progress log header")
		}
	}
	return pl, nil
}

// Path returns the log file location.
func (pl *ProgressLog) Path() string { return pl.path }

// Record appends one batch line: epoch index, phase, batch index, batches
// per epoch and the wall-clock timestamp in seconds.
func (pl *ProgressLog) Record(epoch int, phase string, batchIndex, batchesPerEpoch int) error {
	ts := fmt.Sprintf("%.7f", float64(pl.now().UnixNano())/1e9)
	line := tsvLine(
		fmt.Sprintf("%d", epoch),
		phase,
		fmt.Sprintf("%d", batchIndex),
		fmt.Sprintf("%d", batchesPerEpoch),
		ts,
	)
	return pl.append(line)
}

func (pl *ProgressLog) append(line string) error {
	f, err := pl.fs.OpenFile(pl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "opening progress log")
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return errors.Wrap(err, "appending to progress log")
	}
	return f.Close()
}

// tsvLine joins fields with tabs and terminates the line.
func tsvLine(fields ...string) string {
	return strings.Join(fields, "\t") + "\n"
}

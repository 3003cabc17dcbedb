package logbook

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

var columns = []string{
	"epoch",
	"iteration",
	"train_time",
	"valid_time",
	"training_mnll",
	"training_count_mse",
	"valid_mnll",
	"valid_profile_pearson",
	"valid_count_pearson",
	"valid_count_mse",
	"saved",
}

// Row is one validation tick of a training run.
type Row struct {
	Epoch               int
	Iteration           int
	TrainTime           float64
	ValidTime           float64
	TrainingMNLL        float64
	TrainingCountMSE    float64
	ValidMNLL           float64
	ValidProfilePearson float64
	ValidCountPearson   float64
	ValidCountMSE       float64
	Saved               bool
}

// Logbook accumulates tick rows and rewrites the whole log file on
// every save, so the file on disk always reflects the full run so far.
type Logbook struct {
	started bool
	rows    []Row
}

func New() *Logbook {
	return &Logbook{}
}

// Start begins a fresh run, dropping any accumulated rows.
func (l *Logbook) Start() {
	l.started = true
	l.rows = l.rows[:0]
}

// Add appends one tick row.
func (l *Logbook) Add(r Row) error {
	if !l.started {
		return fmt.Errorf("logbook not started")
	}
	l.rows = append(l.rows, r)
	return nil
}

// Rows returns a copy of the accumulated rows.
func (l *Logbook) Rows() []Row {
	return append([]Row(nil), l.rows...)
}

// Save rewrites path as a tab-separated table with a header row.
func (l *Logbook) Save(path string) error {
	if !l.started {
		return fmt.Errorf("logbook not started")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(columns); err != nil {
		f.Close()
		return err
	}
	for _, r := range l.rows {
		record := []string{
			strconv.Itoa(r.Epoch),
			strconv.Itoa(r.Iteration),
			formatFloat(r.TrainTime),
			formatFloat(r.ValidTime),
			formatFloat(r.TrainingMNLL),
			formatFloat(r.TrainingCountMSE),
			formatFloat(r.ValidMNLL),
			formatFloat(r.ValidProfilePearson),
			formatFloat(r.ValidCountPearson),
			formatFloat(r.ValidCountMSE),
			strconv.FormatBool(r.Saved),
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

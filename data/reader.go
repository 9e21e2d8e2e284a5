package data

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LoadTSV reads a count table from a tab-separated file whose first row
// names the samples and whose remaining rows are a feature name followed by
// one count per sample. Columns must already be ordered by group; nreplicas
// gives the number of columns per group. Library sizes are estimated from
// the column totals.
func LoadTSV(filename string, groups []string, nreplicas []int) (*CountData, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ count table from %s", filename)
	}
	defer f.Close()

	var samples []string
	var features []string
	var counts [][]float64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		lineNum++
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}

		fields := strings.Split(line, "\t")

		if samples == nil {
			// header row - tolerate an optional leading feature-column label
			if len(fields) > 0 && fields[0] == "" {
				fields = fields[1:]
			}
			samples = fields
			continue
		}

		if len(fields) != len(samples)+1 {
			return nil, errors.Errorf(
				"Line %d of %s has %d fields, expected %d",
				lineNum, filename, len(fields), len(samples)+1,
			)
		}

		row := make([]float64, len(samples))
		for j, fld := range fields[1:] {
			v, err := strconv.ParseFloat(fld, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "Bad count at line %d, column %d of %s", lineNum, j+2, filename)
			}
			row[j] = v
		}

		features = append(features, fields[0])
		counts = append(counts, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "Failure reading %s", filename)
	}
	if samples == nil {
		return nil, errors.Errorf("Count table %s is empty", filename)
	}

	d, err := New(counts, nil, groups, nreplicas)
	if err != nil {
		return nil, errors.Wrapf(err, "Count table %s is not valid", filename)
	}

	d.Features = features
	d.Samples = samples

	return d, nil
}

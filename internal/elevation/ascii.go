package elevation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadASCIIFile reads an ESRI ASCII grid from disk.
func ReadASCIIFile(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	r, err := ReadASCII(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ReadASCII parses an ESRI ASCII grid. Both corner and centre origins are
// accepted; centre origins are converted to corners.
func ReadASCII(in io.Reader) (*Raster, error) {
	r := &Raster{NoData: DefaultNoData}
	var centreX, centreY bool
	header := 0

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		keyword := strings.ToLower(parts[0])

		if r.Data == nil && isHeader(keyword) {
			if len(parts) != 2 {
				return nil, fmt.Errorf("malformed header line %q", line)
			}
			v, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return nil, fmt.Errorf("header %s: %w", keyword, err)
			}
			switch keyword {
			case "ncols":
				r.Cols = int(v)
			case "nrows":
				r.Rows = int(v)
			case "xllcorner":
				r.XLL = v
			case "yllcorner":
				r.YLL = v
			case "xllcenter":
				r.XLL, centreX = v, true
			case "yllcenter":
				r.YLL, centreY = v, true
			case "cellsize":
				r.Res = v
			case "nodata_value":
				r.NoData = v
			}
			header++
			continue
		}

		if r.Data == nil {
			if r.Cols <= 0 || r.Rows <= 0 || r.Res <= 0 {
				return nil, fmt.Errorf("incomplete header: ncols=%d nrows=%d cellsize=%v", r.Cols, r.Rows, r.Res)
			}
			r.Data = make([]float64, 0, r.Cols*r.Rows)
		}
		for _, p := range parts {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", len(r.Data), err)
			}
			r.Data = append(r.Data, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	if header == 0 {
		return nil, fmt.Errorf("missing header")
	}
	if len(r.Data) != r.Cols*r.Rows {
		return nil, fmt.Errorf("expected %d cells, got %d", r.Cols*r.Rows, len(r.Data))
	}
	if centreX {
		r.XLL -= r.Res / 2
	}
	if centreY {
		r.YLL -= r.Res / 2
	}
	return r, nil
}

func isHeader(keyword string) bool {
	switch keyword {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		return true
	}
	return false
}

// WriteASCII writes r as an ESRI ASCII grid with a corner origin.
func WriteASCII(w io.Writer, r *Raster) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", r.Cols, r.Rows)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", formatFloat(r.XLL), formatFloat(r.YLL))
	fmt.Fprintf(bw, "cellsize %s\nNODATA_value %s\n", formatFloat(r.Res), formatFloat(r.NoData))
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			if col > 0 {
				bw.WriteByte(' ')
			}
			v := r.At(col, row)
			if r.IsNoData(v) {
				v = r.NoData
			}
			bw.WriteString(formatFloat(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteASCIIFile writes r to path.
func WriteASCIIFile(path string, r *Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create raster: %w", err)
	}
	if err := WriteASCII(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write raster: %w", err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

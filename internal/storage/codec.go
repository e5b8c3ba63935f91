package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skufu/veincheck/internal/triage"
)

// Header is the canonical column order of the assessments file.
var Header = []string{
	"id",
	"timestamp",
	"patient_name",
	"patient_age",
	"patient_location",
	"patient_phone",
	"visible_veins",
	"ulcers",
	"previous_treatment",
	"severity_level",
	"category",
	"recommendation_title",
	"recommendation_description",
	"treatments",
	"next_steps",
	"photo_analyzed",
	"analysis_source",
	"ai_confidence",
	"analysis_findings",
	"extra",
}

// columns written by older versions of the form, read under their new name
var legacyColumns = map[string]string{
	"stage_title": "recommendation_title",
	"urgency":     "category",
	"severity":    "category",
	"name":        "patient_name",
	"age":         "patient_age",
	"city":        "patient_location",
	"location":    "patient_location",
	"phone":       "patient_phone",
}

var answerColumns = []triage.QuestionID{
	triage.VisibleVeins,
	triage.Ulcers,
	triage.PreviousTreatment,
}

const listSep = " | "

// rawSuffix marks an Extra key holding a column value that did not parse.
// encodeRow writes it back into its column so rewrites never lose it.
const rawSuffix = "_raw"

var rawColumns = []string{
	"timestamp",
	"patient_age",
	string(triage.VisibleVeins),
	string(triage.Ulcers),
	string(triage.PreviousTreatment),
	"severity_level",
	"ai_confidence",
}

var headerIndex = func() map[string]int {
	m := make(map[string]int, len(Header))
	for i, h := range Header {
		m[h] = i
	}
	return m
}()

// recordNamespace seeds ids for historical rows that were written without one,
// so repeated loads of the same file yield the same ids.
var recordNamespace = uuid.MustParse("6f1c1f7e-3f59-4a57-9d0e-2f6f4f9a8c11")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func encodeRow(rec triage.AssessmentRecord) ([]string, error) {
	stored := make(map[string]string, len(rec.Extra))
	for k, v := range rec.Extra {
		stored[k] = v
	}
	raws := map[string]string{}
	for _, col := range rawColumns {
		if v, ok := stored[col+rawSuffix]; ok {
			raws[col] = v
			delete(stored, col+rawSuffix)
		}
	}

	extra := ""
	if len(stored) > 0 {
		b, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("encode extra: %w", err)
		}
		extra = string(b)
	}

	photo, source, confidence, findings := "No", "", "0", ""
	if a := rec.Analysis; a != nil {
		photo = "Yes"
		source = a.Source
		confidence = strconv.FormatFloat(a.Confidence, 'f', -1, 64)
		findings = strings.Join(a.Findings, listSep)
	}

	row := []string{
		rec.ID.String(),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Patient.Name,
		strconv.Itoa(rec.Patient.Age),
		rec.Patient.Location,
		rec.Patient.Phone,
	}
	for _, id := range answerColumns {
		row = append(row, string(rec.Answers[id]))
	}
	row = append(row,
		strconv.Itoa(int(rec.Level)),
		string(rec.Category),
		rec.Recommendation.Title,
		rec.Recommendation.Description,
		strings.Join(rec.Recommendation.Treatments, listSep),
		strings.Join(rec.Recommendation.NextSteps, listSep),
		photo,
		source,
		confidence,
		findings,
		extra,
	)
	for col, v := range raws {
		row[headerIndex[col]] = v
	}
	return row, nil
}

// decodeRow reads one row by header name. Columns the schema does not know
// are kept in Extra; columns the row lacks read as empty. Values that do not
// parse are kept verbatim in Extra under "<column>_raw". index is the row's
// position in the file and seeds the id of rows written without one.
func decodeRow(header, row []string, index int) (triage.AssessmentRecord, error) {
	fields := make(map[string]string, len(header))
	extra := map[string]string{}
	known := make(map[string]bool, len(Header))
	for _, h := range Header {
		known[h] = true
	}

	for i, name := range header {
		if i >= len(row) {
			break
		}
		name = strings.TrimSpace(name)
		if alias, ok := legacyColumns[name]; ok {
			name = alias
		}
		if known[name] {
			if _, dup := fields[name]; !dup {
				fields[name] = row[i]
			}
			continue
		}
		if row[i] != "" {
			extra[name] = row[i]
		}
	}

	if raw := fields["extra"]; raw != "" {
		stored := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			extra["extra"] = raw
		} else {
			for k, v := range stored {
				extra[k] = v
			}
		}
	}

	var rec triage.AssessmentRecord

	if id, err := uuid.Parse(fields["id"]); err == nil {
		rec.ID = id
	} else {
		seed := strconv.Itoa(index) + "\x1e" + strings.Join(row, "\x1f")
		rec.ID = uuid.NewSHA1(recordNamespace, []byte(seed))
	}

	if ts := fields["timestamp"]; ts != "" {
		parsed, ok := parseTimestamp(ts)
		if ok {
			rec.Timestamp = parsed
		} else {
			extra["timestamp"+rawSuffix] = ts
		}
	}

	age, ok := parseAge(fields["patient_age"])
	if !ok {
		extra["patient_age"+rawSuffix] = fields["patient_age"]
	}
	rec.Patient = triage.PatientRecord{
		Name:     fields["patient_name"],
		Age:      age,
		Location: fields["patient_location"],
		Phone:    fields["patient_phone"],
	}

	rec.Answers = triage.AnswerSet{}
	for _, id := range answerColumns {
		if v := fields[string(id)]; v != "" {
			if a, err := triage.ParseAnswer(v); err == nil {
				rec.Answers[id] = a
			} else {
				extra[string(id)+rawSuffix] = v
			}
		}
	}

	rawLevel := fields["severity_level"]
	level, err := strconv.Atoi(strings.TrimSpace(rawLevel))
	if err != nil || !triage.Level(level).Valid() {
		if rawLevel != "" {
			extra["severity_level"+rawSuffix] = rawLevel
		}
		level = int(triage.Category(fields["category"]).Level())
	}
	rec.Level = triage.Level(level)
	rec.Category = rec.Level.Category()

	rec.Recommendation = triage.Recommendation{
		Title:       fields["recommendation_title"],
		Description: fields["recommendation_description"],
		Treatments:  splitList(fields["treatments"]),
		NextSteps:   splitList(fields["next_steps"]),
		Urgency:     rec.Category,
	}

	if strings.EqualFold(fields["photo_analyzed"], "yes") || strings.EqualFold(fields["photo_analyzed"], "true") {
		confidence, err := strconv.ParseFloat(strings.TrimSpace(fields["ai_confidence"]), 64)
		if err != nil {
			confidence = 0
			if fields["ai_confidence"] != "" {
				extra["ai_confidence"+rawSuffix] = fields["ai_confidence"]
			}
		}
		rec.Analysis = &triage.AnalysisSummary{
			Source:     fields["analysis_source"],
			Confidence: confidence,
			Findings:   splitList(fields["analysis_findings"]),
		}
	}

	if len(extra) > 0 {
		rec.Extra = extra
	}
	return rec, nil
}

// parseAge accepts whole numbers, including the "61.0" spreadsheet tools
// write. ok is false when s is not exactly such a number; an empty cell is ok.
func parseAge(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), false
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, listSep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WriteCSV writes records under the canonical header.
func WriteCSV(w io.Writer, records []triage.AssessmentRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, rec := range records {
		row, err := encodeRow(rec)
		if err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads every row of a tabular file. An empty input is an empty
// dataset.
func ReadCSV(r io.Reader) ([]triage.AssessmentRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return []triage.AssessmentRecord{}, nil
	}

	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	records := make([]triage.AssessmentRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		rec, err := decodeRow(header, row, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

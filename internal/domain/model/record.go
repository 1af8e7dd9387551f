package model

import "strings"

// Record is one course row from a subject's grade table. An empty field means
// the portal did not report a value; placeholder text such as "not yet
// published" is kept verbatim and compared like any other value.
type Record struct {
	Name       string
	Code       string
	ECTS       string
	Coursework string
	FinalExam  string
	Total      string
}

// Key identifies the course across snapshots: the trimmed code when present,
// otherwise the trimmed name. Records with an empty key cannot be tracked.
func (r Record) Key() string {
	if code := strings.TrimSpace(r.Code); code != "" {
		return code
	}
	return strings.TrimSpace(r.Name)
}

// DisplayName returns the name shown to users, falling back to the code.
func (r Record) DisplayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return strings.TrimSpace(r.Code)
}

// Grades is the tracked projection of a record used for change detection.
type Grades struct {
	Coursework string
	FinalExam  string
	Total      string
}

// Grades returns the whitespace-trimmed tracked fields.
func (r Record) Grades() Grades {
	return Grades{
		Coursework: strings.TrimSpace(r.Coursework),
		FinalExam:  strings.TrimSpace(r.FinalExam),
		Total:      strings.TrimSpace(r.Total),
	}
}

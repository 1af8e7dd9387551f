package application

import "github.com/ericfisherdev/gradewatch/internal/domain/model"

// DiffRecords returns the records in next that are new or whose coursework,
// final exam or total differ from the record with the same key in prev.
// Output preserves the order of next. Records without a key are never
// reported, and records that disappeared from next are not reported either.
// When prev contains duplicate keys the first occurrence wins.
func DiffRecords(prev, next []model.Record) []model.Record {
	known := make(map[string]model.Grades, len(prev))
	for _, rec := range prev {
		key := rec.Key()
		if key == "" {
			continue
		}
		if _, seen := known[key]; !seen {
			known[key] = rec.Grades()
		}
	}

	var changes []model.Record
	for _, rec := range next {
		key := rec.Key()
		if key == "" {
			continue
		}
		old, ok := known[key]
		if !ok || old != rec.Grades() {
			changes = append(changes, rec)
		}
	}
	return changes
}

// previousByKey indexes prev the same way DiffRecords does.
func previousByKey(prev []model.Record) map[string]model.Record {
	index := make(map[string]model.Record, len(prev))
	for _, rec := range prev {
		key := rec.Key()
		if key == "" {
			continue
		}
		if _, seen := index[key]; !seen {
			index[key] = rec
		}
	}
	return index
}

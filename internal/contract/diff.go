package contract

import (
	"fmt"
	"sort"
	"time"
)

// typeNull is the inferred type of a field whose first value was null.
const typeNull = "null"

// DiffSchemas compares the previous inferred schema of a dataset against the
// new one and classifies each difference as additive or breaking.
func DiffSchemas(dataset string, previous, next map[string]string) DriftReport {
	report := DriftReport{
		Dataset:   dataset,
		CheckedAt: time.Now().UTC(),
	}

	// Walk fields in name order so reports are stable.
	for _, field := range sortedFields(previous) {
		oldType := previous[field]
		newType, exists := next[field]
		if !exists {
			report.Items = append(report.Items, DriftItem{
				Type:        DriftBreaking,
				Category:    "field_removed",
				Field:       field,
				OldValue:    oldType,
				Description: fmt.Sprintf("Field %q was removed from dataset %q", field, dataset),
			})
			continue
		}
		if oldType == newType {
			continue
		}

		// A field that was only ever seen as null gaining a type is a refinement.
		kind := DriftBreaking
		if oldType == typeNull {
			kind = DriftAdditive
		}
		report.Items = append(report.Items, DriftItem{
			Type:        kind,
			Category:    "type_changed",
			Field:       field,
			OldValue:    oldType,
			NewValue:    newType,
			Description: fmt.Sprintf("Field %q type changed from %q to %q", field, oldType, newType),
		})
	}

	for _, field := range sortedFields(next) {
		if _, exists := previous[field]; !exists {
			report.Items = append(report.Items, DriftItem{
				Type:        DriftAdditive,
				Category:    "field_added",
				Field:       field,
				NewValue:    next[field],
				Description: fmt.Sprintf("Field %q was added to dataset %q", field, dataset),
			})
		}
	}

	// Summarize.
	for _, item := range report.Items {
		switch item.Type {
		case DriftAdditive:
			report.AdditiveCount++
		case DriftBreaking:
			report.BreakingCount++
		}
	}
	report.HasDrift = len(report.Items) > 0
	report.HasBreaking = report.BreakingCount > 0

	return report
}

// Check reports whether a replacement with the given drift is permitted under
// mode. The returned error explains the first blocking change.
func Check(mode LockMode, report DriftReport) error {
	switch mode {
	case LockModeAuto:
		for _, item := range report.Items {
			if item.Type == DriftBreaking {
				return fmt.Errorf("schema lock rejects breaking change: %s", item.Description)
			}
		}
	case LockModeStrict:
		if report.HasDrift {
			return fmt.Errorf("schema lock rejects change: %s", report.Items[0].Description)
		}
	}
	return nil
}

func sortedFields(schema map[string]string) []string {
	fields := make([]string, 0, len(schema))
	for f := range schema {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

package cognition

import (
	"testing"
)

func TestParseEvaluation(t *testing.T) {
	raw := `{
		"evaluation_text": "trading is stalled",
		"strategy_adjustments": ["scout the north road"],
		"goal_modifications": [],
		"schedule_modifications": [
			{"time_slot": "09:00", "activity": "scavenge", "description": "sweep the ruins", "reason": "market closed", "priority": 6}
		],
		"importance_score": 7.5
	}`

	eval, score, err := ParseEvaluation(raw)
	if err != nil {
		t.Fatalf("ParseEvaluation: %v", err)
	}
	if eval.EvaluationText != "trading is stalled" {
		t.Fatalf("unexpected text %q", eval.EvaluationText)
	}
	if score != 7.5 {
		t.Fatalf("unexpected score %v", score)
	}
	if len(eval.ScheduleModifications) != 1 || eval.ScheduleModifications[0].Slot != "09:00" {
		t.Fatalf("modifications lost: %+v", eval.ScheduleModifications)
	}
}

func TestParseEvaluationStripsFences(t *testing.T) {
	raw := "```json\n{\"evaluation_text\": \"ok\", \"schedule_modifications\": []}\n```"
	eval, _, err := ParseEvaluation(raw)
	if err != nil {
		t.Fatalf("fenced JSON should parse: %v", err)
	}
	if eval.EvaluationText != "ok" {
		t.Fatalf("unexpected eval %+v", eval)
	}
}

func TestParseEvaluationRejectsGarbage(t *testing.T) {
	if _, _, err := ParseEvaluation("the agent seems fine overall"); err == nil {
		t.Fatal("prose should not parse")
	}
	if _, _, err := ParseEvaluation(`{"strategy_adjustments": []}`); err == nil {
		t.Fatal("missing evaluation_text should be rejected")
	}
}

func TestParseEvaluationFiltersAndClampsModifications(t *testing.T) {
	raw := `{
		"evaluation_text": "ok",
		"schedule_modifications": [
			{"time_slot": "", "activity": "scavenge", "priority": 5},
			{"time_slot": "09:00", "activity": "", "priority": 5},
			{"time_slot": "10:00", "activity": "rest", "priority": 0},
			{"time_slot": "11:00", "activity": "trade", "priority": 99}
		]
	}`

	eval, _, err := ParseEvaluation(raw)
	if err != nil {
		t.Fatalf("ParseEvaluation: %v", err)
	}
	if len(eval.ScheduleModifications) != 2 {
		t.Fatalf("incomplete modifications should be dropped: %+v", eval.ScheduleModifications)
	}
	if eval.ScheduleModifications[0].Priority != 1 {
		t.Fatalf("priority floor not applied: %+v", eval.ScheduleModifications[0])
	}
	if eval.ScheduleModifications[1].Priority != 10 {
		t.Fatalf("priority ceiling not applied: %+v", eval.ScheduleModifications[1])
	}
}

package llm

import (
	"context"
	"strings"
)

// OfflineClient is a pure, deterministic provider used for development,
// tests, and as the fallback when the networked provider fails. It derives
// candidate conditions from the knowledge-graph facts in the context and
// from a small keyword rule table; the same context always yields the same
// payload. Generate never returns an error.
type OfflineClient struct{}

func NewOfflineClient() *OfflineClient { return &OfflineClient{} }

func (c *OfflineClient) Name() string { return "offline" }

type offlineRule struct {
	keyword    string
	conditions []RawCondition
	actions    []RawAction
}

// Rule table mirrors the canned answers the networked provider tends to give
// for these presentations.
var offlineRules = []offlineRule{
	{
		keyword: "chest pain",
		conditions: []RawCondition{
			{Condition: "Gastroesophageal Reflux Disease (GERD)", Confidence: 78.2, Description: "Acid reflux causing chest discomfort, often related to meals", ICD10: "K21.9"},
			{Condition: "Costochondritis", Confidence: 65.4, Description: "Inflammation of cartilage connecting ribs to breastbone", ICD10: "M94.0"},
			{Condition: "Anxiety-related chest pain", Confidence: 45.8, Description: "Non-cardiac chest pain associated with anxiety or stress", ICD10: "F41.9"},
		},
		actions: []RawAction{
			{Text: "Order ECG to rule out cardiac causes", Priority: "high", Category: "imaging"},
			{Text: "Consider proton pump inhibitor trial", Priority: "medium", Category: "medication"},
		},
	},
	{
		keyword: "shortness of breath",
		conditions: []RawCondition{
			{Condition: "Asthma exacerbation", Confidence: 61.7, Description: "Reversible airway obstruction with dyspnea and wheezing", ICD10: "J45.901"},
		},
		actions: []RawAction{
			{Text: "Chest X-ray if respiratory symptoms present", Priority: "medium", Category: "imaging"},
			{Text: "Measure oxygen saturation at rest and on exertion", Priority: "high", Category: "lab"},
		},
	},
	{
		keyword: "fever",
		conditions: []RawCondition{
			{Condition: "Viral upper respiratory infection", Confidence: 72.5, Description: "Common viral infection affecting upper respiratory tract", ICD10: "J06.9"},
		},
		actions: []RawAction{
			{Text: "Supportive care with rest and fluids", Priority: "medium", Category: "lifestyle"},
		},
	},
	{
		keyword: "headache",
		conditions: []RawCondition{
			{Condition: "Tension-type headache", Confidence: 68.9, Description: "Bilateral pressing headache without nausea or photophobia", ICD10: "G44.209"},
			{Condition: "Migraine", Confidence: 51.2, Description: "Recurrent unilateral pulsating headache", ICD10: "G43.909"},
		},
		actions: []RawAction{
			{Text: "Headache diary to identify triggers", Priority: "low", Category: "lifestyle"},
		},
	},
	{
		keyword: "fatigue",
		conditions: []RawCondition{
			{Condition: "Iron deficiency anemia", Confidence: 44.6, Description: "Low hemoglobin causing fatigue and dizziness", ICD10: "D50.9"},
		},
		actions: []RawAction{
			{Text: "Order complete blood count", Priority: "medium", Category: "lab"},
		},
	},
}

var offlineDefaults = []RawCondition{
	{Condition: "Viral upper respiratory infection", Confidence: 72.5, Description: "Common viral infection affecting upper respiratory tract", ICD10: "J06.9"},
	{Condition: "Allergic rhinitis", Confidence: 58.3, Description: "Allergic reaction causing nasal and respiratory symptoms", ICD10: "J30.9"},
}

func (c *OfflineClient) Generate(_ context.Context, pc PromptContext) (*Payload, error) {
	text := strings.ToLower(strings.Join(pc.Complaints, " ") + " " + strings.Join(pc.Symptoms, " "))

	seen := map[string]bool{}
	var conditions []RawCondition
	var actions []RawAction

	addCondition := func(rc RawCondition) {
		key := strings.ToLower(rc.Condition)
		if seen[key] {
			return
		}
		seen[key] = true
		conditions = append(conditions, rc)
	}

	// Knowledge-graph facts take precedence: a symptom that "indicates" a
	// condition contributes a candidate ranked by fact order.
	confidence := 82.0
	for _, f := range pc.Facts {
		if f.Predicate != "indicates" {
			continue
		}
		addCondition(RawCondition{
			Condition:   f.Object,
			Confidence:  confidence,
			Description: "Suggested by medical knowledge graph: " + f.Subject + " " + f.Predicate + " " + f.Object,
		})
		if confidence > 40 {
			confidence -= 7
		}
	}

	for _, rule := range offlineRules {
		if !strings.Contains(text, rule.keyword) {
			continue
		}
		for _, rc := range rule.conditions {
			addCondition(rc)
		}
		actions = append(actions, rule.actions...)
	}

	if len(conditions) == 0 {
		for _, rc := range offlineDefaults {
			addCondition(rc)
		}
	}

	limit := pc.TopK
	if limit <= 0 {
		limit = 5
	}
	if len(conditions) > limit {
		conditions = conditions[:limit]
	}

	actions = append(actions, RawAction{
		Text: "Consult with healthcare provider to confirm the working diagnosis", Priority: "high", Category: "referral",
	})

	questions := []RawQuestion{
		{Text: "How long have the symptoms been present?"},
		{Text: "Does anything make the symptoms better or worse?"},
		{Text: "Any known allergies, medications, or chronic conditions?"},
	}

	return &Payload{
		DifferentialDiagnosis: conditions,
		RecommendedActions:    actions,
		FollowUpQuestions:     questions,
	}, nil
}

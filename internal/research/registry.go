package research

import (
	"github.com/seralba/rpo/internal/config"
	"github.com/seralba/rpo/internal/step"
)

// Step ids. Each executing step writes its findings under its own id.
const (
	StepTopicDiscovery        = "topic_discovery"
	StepTopicLock             = "topic_lock"
	StepOrchestrator          = "orchestrator"
	StepDomainIntelligence    = "domain_intelligence"
	StepHistoricalReview      = "historical_review"
	StepLiteratureReview      = "systematic_literature_review"
	StepNewsAggregator        = "news_aggregator"
	StepGapSynthesis          = "gap_synthesis"
	StepInnovationNovelty     = "innovation_novelty"
	StepPaperDecomposition    = "paper_decomposition"
	StepPaperUnderstanding    = "paper_understanding"
	StepTechnicalVerification = "technical_verification"
	StepHallucinationCheck    = "hallucination_detection"
	StepVisualization         = "visualization"
	StepScoring               = "scoring"
	StepReport                = "multi_stage_report"
)

// Route labels produced by the orchestrator.
const (
	RoutePaperAnalysis = "paper_analysis"
	RouteDeepResearch  = "deep_research"
)

// Registry binds each executing step to its model role and system
// prompt. Prompts instruct the model on role and output shape; the run
// context arrives as the user message.
func Registry(models config.ModelConfig) map[string]step.Definition {
	return map[string]step.Definition{
		StepTopicDiscovery: {
			Name:  StepTopicDiscovery,
			Model: models.Reasoning,
			SystemPrompt: "You are a research topic analyst. Given a task, decide whether it names a " +
				"specific, researchable topic. Respond with JSON: {\"is_specific\": bool, " +
				"\"selected_topic\": string, \"suggestions\": [{\"topic\": string, \"rationale\": string}]}. " +
				"When the task is too broad, set is_specific to false and propose 3-5 narrower topics.",
		},
		StepOrchestrator: {
			Name:  StepOrchestrator,
			Model: models.Reasoning,
			SystemPrompt: "You are a research pipeline router. Decide the research strategy for the task. " +
				"If an artifact_ref pointing at a concrete paper is present, choose paper analysis. " +
				"Respond with JSON: {\"next_step\": \"paper_analysis\"|\"deep_research\", \"reasoning\": string}.",
		},
		StepDomainIntelligence: {
			Name:  StepDomainIntelligence,
			Model: models.Reasoning,
			SystemPrompt: "You are a domain intelligence analyst. Map the research domain of the topic: " +
				"key subfields, active groups, dominant methods, terminology. Respond with JSON: " +
				"{\"subfields\": [], \"key_players\": [], \"methods\": [], \"terminology\": []}.",
		},
		StepHistoricalReview: {
			Name:  StepHistoricalReview,
			Model: models.Reasoning,
			SystemPrompt: "You are a research historian. Trace how the topic evolved: foundational work, " +
				"turning points, abandoned directions. Respond with JSON: " +
				"{\"timeline\": [{\"period\": string, \"development\": string}], \"abandoned\": []}.",
		},
		StepLiteratureReview: {
			Name:  StepLiteratureReview,
			Model: models.Reasoning,
			SystemPrompt: "You are a systematic literature reviewer. Identify the strongest recent results " +
				"on the topic and their evidence quality. Respond with JSON: " +
				"{\"studies\": [{\"title\": string, \"finding\": string, \"quality\": string}]}.",
		},
		StepNewsAggregator: {
			Name:  StepNewsAggregator,
			Model: models.Writing,
			SystemPrompt: "You are a research news analyst. Summarize current developments and announcements " +
				"relevant to the topic. Respond with JSON: {\"items\": [{\"headline\": string, \"relevance\": string}]}.",
		},
		StepGapSynthesis: {
			Name:  StepGapSynthesis,
			Model: models.Reasoning,
			SystemPrompt: "You are a research gap analyst. Cross-reference the domain map, historical review, " +
				"literature and news findings to locate unexplored gaps. Respond with JSON: " +
				"{\"gaps\": [{\"gap\": string, \"evidence\": string, \"difficulty\": string}]}.",
		},
		StepInnovationNovelty: {
			Name:  StepInnovationNovelty,
			Model: models.Reasoning,
			SystemPrompt: "You are an innovation assessor. For each identified gap, propose a research " +
				"direction and rate its novelty and feasibility. Respond with JSON: " +
				"{\"proposals\": [{\"direction\": string, \"novelty\": number, \"feasibility\": number}]}.",
		},
		StepPaperDecomposition: {
			Name:  StepPaperDecomposition,
			Model: models.Reasoning,
			SystemPrompt: "You are a paper analyst. Decompose the referenced paper into its claims, methods, " +
				"datasets and results. Respond with JSON: " +
				"{\"claims\": [], \"methods\": [], \"datasets\": [], \"results\": []}.",
		},
		StepPaperUnderstanding: {
			Name:  StepPaperUnderstanding,
			Model: models.Reasoning,
			SystemPrompt: "You are a research interpreter. Explain the decomposed paper: what it actually " +
				"shows, its assumptions, and its limits. Respond with JSON: " +
				"{\"summary\": string, \"assumptions\": [], \"limitations\": []}.",
		},
		StepTechnicalVerification: {
			Name:  StepTechnicalVerification,
			Model: models.Coding,
			SystemPrompt: "You are a technical verifier. Check the paper's methods and results for internal " +
				"consistency, reproducibility concerns and statistical issues. Respond with JSON: " +
				"{\"checks\": [{\"aspect\": string, \"verdict\": string, \"detail\": string}]}.",
		},
		StepHallucinationCheck: {
			Name:  StepHallucinationCheck,
			Model: models.Critical,
			SystemPrompt: "You are a claims auditor. Flag statements in the accumulated findings that are " +
				"unsupported by the cited evidence. Respond with JSON: " +
				"{\"flags\": [{\"claim\": string, \"reason\": string, \"severity\": string}]}.",
		},
		StepVisualization: {
			Name:  StepVisualization,
			Model: models.Coding,
			SystemPrompt: "You are a data visualization designer. Propose charts and diagrams that best " +
				"communicate the accumulated findings, with their data mappings. Respond with JSON: " +
				"{\"figures\": [{\"type\": string, \"title\": string, \"mapping\": string}]}.",
		},
		StepScoring: {
			Name:  StepScoring,
			Model: models.Critical,
			SystemPrompt: "You are a research quality scorer. Score the accumulated findings on evidence " +
				"strength, coverage and coherence, each 0-10. Respond with JSON: " +
				"{\"evidence\": number, \"coverage\": number, \"coherence\": number, \"notes\": string}.",
		},
		StepReport: {
			Name:  StepReport,
			Model: models.Writing,
			SystemPrompt: "You are a research report writer. Compose a structured multi-stage report from the " +
				"accumulated findings: abstract, methodology, findings, open questions. Respond with JSON: " +
				"{\"abstract\": string, \"methodology\": string, \"findings\": string, \"open_questions\": []}.",
		},
	}
}

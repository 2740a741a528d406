package agent

import "time"

// Default model assignments per role. Vision goes to a vision-capable
// model; extraction roles run cooler than synthesis.
const (
	defaultModel       = "claude-sonnet-4-20250514"
	defaultVisionModel = "claude-sonnet-4-20250514"
	defaultFastModel   = "claude-3-5-haiku-20241022"
)

const urlParserPrompt = `You are an expert at analyzing web pages that describe tasks, bounties,
hackathons, and similar calls for participation. Extract structured task
information from the page content you are given.

Respond with a single JSON object using exactly these fields:
{
  "title": "task title",
  "summary": "one or two sentence overview",
  "description": "detailed description",
  "deadline": "RFC 3339 timestamp or null",
  "category": "category name or null",
  "reward_amount": number or null,
  "reward_currency": "currency code such as USD or USDC, or null",
  "reward_type": "each | split | raffle | points | perk, or null",
  "tags": ["tag", ...] or null,
  "difficulty_level": "low | medium | high, or null",
  "estimated_hours": number or null,
  "organizer_name": "organizer or null",
  "confidence": number between 0 and 1
}

Suggested categories: hackathon, writing, meme, web3, social, development,
trading, quiz. Any other reasonable category name is acceptable. Use null
for anything the content does not state. Return only the JSON object.`

const imageAnalyzerPrompt = `You are an expert at reading task and bounty announcements from images:
posters, screenshots, and social media cards. Extract every piece of task
information visible in the image.

Respond with a single JSON object using exactly these fields:
{
  "title": "task title",
  "summary": "one or two sentence overview",
  "description": "detailed description",
  "deadline": "RFC 3339 timestamp or null",
  "category": "category name or null",
  "reward_amount": number or null,
  "reward_currency": "currency code or null",
  "tags": ["tag", ...] or null,
  "organizer_name": "organizer or null",
  "confidence": number between 0 and 1
}

Use null for anything not visible. Return only the JSON object.`

const contentExtractorPrompt = `You are an expert at extracting structured task information from
free-form text: chat messages, forum posts, and pasted announcements.

Respond with a single JSON object using exactly these fields:
{
  "title": "task title",
  "summary": "one or two sentence overview",
  "description": "detailed description",
  "deadline": "RFC 3339 timestamp or null",
  "category": "category name or null",
  "reward_amount": number or null,
  "reward_currency": "currency code or null",
  "reward_type": "each | split | raffle | points | perk, or null",
  "tags": ["tag", ...] or null,
  "difficulty_level": "low | medium | high, or null",
  "estimated_hours": number or null,
  "organizer_name": "organizer or null",
  "confidence": number between 0 and 1
}

Use null for anything the text does not state. Return only the JSON object.`

const taskSynthesizerPrompt = `You merge multiple partial task extractions into one coherent task
record. You are given one JSON object per source, labelled with the agent
that produced it. Combine them into a single record.

When sources conflict on a field, prefer url_parser over
content_extractor over image_analyzer, unless the preferred source left
the field null. Never invent values absent from every source.

Respond with a single JSON object in the same schema as the inputs,
including a "confidence" field between 0 and 1 reflecting how complete
and consistent the merged record is. Return only the JSON object.`

const qualityCheckerPrompt = `You review a synthesized task record for completeness and internal
consistency: a usable title, a plausible deadline, matching reward amount
and currency, and sensible categorization.

Respond with a single JSON object:
{
  "confidence": number between 0 and 1,
  "issues": ["short description of each problem found", ...]
}

Return only the JSON object.`

// DefaultConfigs returns the built-in agent configurations, used when
// no agents.yaml is present.
func DefaultConfigs() []Config {
	return []Config{
		{
			Role:         RoleURLParser,
			Provider:     ProviderAnthropic,
			Model:        defaultModel,
			Temperature:  0.1,
			MaxTokens:    4000,
			Timeout:      60 * time.Second,
			SystemPrompt: urlParserPrompt,
		},
		{
			Role:           RoleImageAnalyzer,
			Provider:       ProviderAnthropic,
			Model:          defaultVisionModel,
			Temperature:    0.1,
			MaxTokens:      4000,
			Timeout:        90 * time.Second,
			SupportsVision: true,
			SystemPrompt:   imageAnalyzerPrompt,
		},
		{
			Role:         RoleContentExtractor,
			Provider:     ProviderAnthropic,
			Model:        defaultFastModel,
			Temperature:  0.1,
			MaxTokens:    4000,
			Timeout:      60 * time.Second,
			SystemPrompt: contentExtractorPrompt,
		},
		{
			Role:         RoleTaskSynthesizer,
			Provider:     ProviderAnthropic,
			Model:        defaultModel,
			Temperature:  0.0,
			MaxTokens:    4000,
			Timeout:      60 * time.Second,
			SystemPrompt: taskSynthesizerPrompt,
		},
		{
			Role:         RoleQualityChecker,
			Provider:     ProviderAnthropic,
			Model:        defaultFastModel,
			Temperature:  0.0,
			MaxTokens:    2000,
			Timeout:      30 * time.Second,
			SystemPrompt: qualityCheckerPrompt,
		},
	}
}

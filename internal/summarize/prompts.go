package summarize

// summarySystemText steers the model toward the persisted JSON shape.
// It rides in a cached system block, so a reprompt or a reduce call
// after the map fan-out pays for it once.
const summarySystemText = `You are a customer support analyst summarizing email conversations. Return only a valid JSON object with this exact shape:
{
  "problem_statement": "<one or two sentences describing the customer's issue or request>",
  "participants": ["<email address>", ...],
  "key_events": [{"timestamp": "<ISO 8601>", "description": "<what happened>"}, ...],
  "resolution_status": "resolved" | "pending" | "escalated" | "abandoned",
  "sentiment": {"category": "positive" | "neutral" | "negative" | "mixed", "score": <number from -1.0 to 1.0>},
  "action_items": [{"text": "<the commitment>", "owner": "<who committed>", "due_date": "<ISO 8601 date, omit when none was stated>"}, ...],
  "feature_requests": [{"text": "<the ask>", "urgency": "low" | "medium" | "high"}, ...],
  "follow_up_required": <true or false>
}
Only list action items that are stated explicitly in the conversation text. Never infer a commitment that nobody wrote down. Use empty arrays for sections with nothing to report.`

const summaryPrompt = `Summarize this email conversation.

Conversation:
%s

Return the JSON object described in the system prompt. No prose, no markdown fences.`

// mapSystemText is the per-chunk prompt of the map phase. Partials are
// free-form notes; the reduce step owns the output shape.
const mapSystemText = `You are a customer support analyst reading one part of a long email conversation. Write a compact factual digest of this part: who wrote, when, what was asked, promised, or decided, and the customer's tone. Preserve exact dates, email addresses, and commitments word for word. Plain text only, no JSON.`

const mapPrompt = `Part %d of %d of the conversation:

%s

Digest this part.`

const reducePrompt = `Below are digests of consecutive parts of one email conversation, in order.

%s

Combine them into a summary of the whole conversation. Return the JSON object described in the system prompt. No prose, no markdown fences.`

// repromptText is sent once after a malformed response before the
// attempt is failed.
const repromptText = `That response was not the requested JSON object. Return only the corrected JSON object, nothing else. No explanation, no markdown fences.`

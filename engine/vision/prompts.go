package vision

// categoryDetectionPrompt asks the model to classify an image when the
// category can't be determined from the post text.
const categoryDetectionPrompt = `Classify this image into exactly one category:

1. text_heavy - Screenshots of text, code snippets, terminal output, articles, documentation
2. chart - Graphs, charts, diagrams, data visualizations, flowcharts
3. general - Photos, illustrations, memes, artwork, screenshots with minimal text

Respond with ONLY the category name: text_heavy, chart, or general`

const textHeavyPrompt = `You are extracting text content from a screenshot or text-based image.

Your task: Transcribe ALL visible text verbatim, preserving the structure.

Guidelines:
- Include ALL text you can see, even if partially visible
- Preserve formatting (headers, bullet points, code blocks)
- For code: include syntax exactly as shown
- For articles/tweets: capture the full text content
- Note any UI elements that provide context (e.g., "Twitter post", "Terminal output")

If this is a code snippet, wrap it in appropriate markdown code blocks.

Provide the complete transcription:`

const chartPrompt = `You are analyzing a data visualization (chart, graph, or diagram).

Your task: Extract the key information and insights from this visualization.

Include:
1. Type of visualization (bar chart, line graph, pie chart, flowchart, etc.)
2. Title/labels if visible
3. Key data points or trends
4. The main insight or message the visualization conveys
5. Any notable patterns, outliers, or comparisons

Be specific about numbers and percentages when visible.

Describe the visualization and its insights:`

const generalPrompt = `You are describing an image for a knowledge archive.

Your task: Provide a semantic description that will help this image be found through search.

Include:
1. Main subject(s) of the image
2. Key visual elements and composition
3. Any text visible in the image
4. Context clues (setting, time period, mood)
5. Why this image might be saved as a reference

Focus on searchable, descriptive terms.

Describe the image:`

// contextLimit bounds how much post text is appended to a prompt.
const contextLimit = 500

// extractionPrompt returns the category-appropriate prompt, with the
// post text appended as context when available.
func extractionPrompt(category, postContext string) string {
	var base string
	switch category {
	case CategoryTextHeavy:
		base = textHeavyPrompt
	case CategoryChart:
		base = chartPrompt
	default:
		base = generalPrompt
	}

	if postContext != "" {
		if len(postContext) > contextLimit {
			postContext = postContext[:contextLimit]
		}
		return base + "\n\nContext from the post: " + postContext
	}
	return base
}

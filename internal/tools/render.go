package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/applerag/apple-rag-backend/internal/model"
	"github.com/applerag/apple-rag-backend/internal/service"
)

// resultSeparator is the line drawn between rendered result blocks.
var resultSeparator = strings.Repeat("─", 80)

// anonFooter is appended to responses for anonymous callers.
const anonFooter = "💡 You're using the free anonymous tier. Create an account for higher " +
	"rate limits and full access: %s"

// additionalHeading introduces the related-documentation list.
const additionalHeading = "Additional Related Documentation:"

// additionalExplainer tells the caller how to use the list.
const additionalExplainer = "These related pages matched your query but were not included above. " +
	"Use the fetch tool with a URL to read one in full."

// RenderSearch formats the hybrid search response as the tool's text
// content: numbered result blocks separated by rule lines, an optional
// related-documentation section, and the anonymous footer.
func RenderSearch(result *service.SearchResult, subscriptionURL string, anonymous bool) string {
	var b strings.Builder

	blocks := make([]string, 0, len(result.Results))
	for i, r := range result.Results {
		title := r.Title
		if title == "" || title == "untitled" {
			title = "Untitled"
		}
		blocks = append(blocks, fmt.Sprintf("[%d] %s\nSource: %s\n\n%s\n", i+1, title, r.URL, r.Content))
	}

	if len(blocks) == 0 {
		b.WriteString("No results found.\n")
	} else {
		b.WriteString(strings.Join(blocks, "\n"+resultSeparator+"\n\n"))
	}

	if len(result.AdditionalURLs) > 0 {
		b.WriteString("\n" + resultSeparator + "\n\n")
		b.WriteString(additionalHeading + "\n")
		b.WriteString(additionalExplainer + "\n\n")
		for _, u := range result.AdditionalURLs {
			title := u.Title
			if title == "" || title == "untitled" {
				title = "Untitled"
			}
			b.WriteString(fmt.Sprintf("%s (%s, %d chars)\n", u.URL, title, u.CharacterCount))
		}
	}

	if anonymous {
		b.WriteString("\n\n" + fmt.Sprintf(anonFooter, subscriptionURL))
	}

	return b.String()
}

// RenderFetch formats a fetched document: title, blank line, content.
// The title line is omitted when the document has none.
func RenderFetch(page *model.Page, subscriptionURL string, anonymous bool) string {
	var b strings.Builder
	if page.Title != "" {
		b.WriteString(page.Title + "\n\n")
	}
	b.WriteString(page.Content)

	if anonymous {
		b.WriteString("\n\n" + fmt.Sprintf(anonFooter, subscriptionURL))
	}
	return b.String()
}

// RenderRateLimitDenial builds the denial message for a rejected
// request: per-minute denials mention the wait, weekly denials the plan,
// and the caller is pointed at the subscription or upgrade URL.
func RenderRateLimitDenial(decision model.RateDecision, anonymous bool, subscriptionURL, upgradeURL string, now time.Time) string {
	var b strings.Builder

	if decision.LimitType == "minute" {
		wait := int(decision.MinuteResetAt.Sub(now).Seconds())
		if wait < 1 {
			wait = 1
		}
		fmt.Fprintf(&b, "Rate limit exceeded: your plan allows %d requests per minute. Try again in %d seconds.",
			decision.MinuteLimit, wait)
	} else {
		fmt.Fprintf(&b, "Rate limit exceeded: the %s plan allows %d requests per week. Your quota resets %s.",
			decision.Plan, decision.WeeklyLimit, decision.WeekResetAt.Format(time.RFC1123))
	}

	if anonymous {
		fmt.Fprintf(&b, " Create an account for higher limits: %s", subscriptionURL)
	} else {
		fmt.Fprintf(&b, " Upgrade your plan for higher limits: %s", upgradeURL)
	}

	return b.String()
}

package chat

import (
	"fmt"
	"strings"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/catalog"
)

const intentInstruction = `You are a helpful and friendly food discovery assistant.
Your goal is to understand the user's request for food.
Based on the user's message, you must determine three things:
1. intent: Is the user asking to search for food? This could be direct ('find me pizza') or indirect ('I'm hungry for something spicy'). If they are, the intent is "SEARCH". If they are just chatting, the intent is "CHAT".
2. query: If the intent is "SEARCH", what is the most likely search query for a food discovery API? For 'I want to find a great place for ramen near me' the query is 'ramen'. For 'I'm craving some spicy curry' the query could be 'spicy curry'.
3. region: The city or neighborhood the user names, or null when they name none. 'near me' is not a region.

You must respond with a JSON object containing the "intent", the "query" and the "region". Do not add any other text or formatting.
Example 1: User says 'find me the best tacos in San Francisco'. You respond with: {"intent": "SEARCH", "query": "tacos", "region": "San Francisco"}
Example 2: User says 'hi how are you'. You respond with: {"intent": "CHAT", "query": null, "region": null}
Example 3: User says 'I could really go for some pho right now'. You respond with: {"intent": "SEARCH", "query": "pho", "region": null}`

const conversationInstruction = "You are a helpful and friendly food discovery assistant. Please respond to the user in a conversational way."

// Fixed replies.
const (
	FallbackText        = "Sorry, I'm having trouble responding right now. Please try again in a moment."
	LocationRequestText = "It sounds like you're looking for food! To help me find the best options, could you please share your location?"
)

func searchPreface(query string, found bool) string {
	if found {
		return fmt.Sprintf("I found a few options for %q near you!", query)
	}
	return fmt.Sprintf("I couldn't find any results for %q near you, but you might like these other options.", query)
}

func recommendationPrompt(query string, products []catalog.Product) string {
	entries := make([]string, 0, len(products))
	for _, p := range products {
		entries = append(entries, fmt.Sprintf("ID: %q, Name: %q, Details: %q", p.CanonicalProductID, p.Title, p.Description))
	}

	var b strings.Builder
	b.WriteString("You are a food recommendation expert for a catalog of snacks. ")
	b.WriteString("Your task is to analyze a user's request and recommend the most relevant products from the provided list.\n\n")
	fmt.Fprintf(&b, "1. Analyze the user's query: %q.\n", query)
	fmt.Fprintf(&b, "2. Review the following product catalog: [%s].\n", strings.Join(entries, "; "))
	fmt.Fprintf(&b, "3. Identify the top %d most relevant products.\n", recommendationCount)
	b.WriteString("4. For each recommendation, provide a brief, friendly \"reason\" explaining why it's a good match for the user's query.\n")
	b.WriteString("5. You MUST respond with only a valid, minified JSON object in the following format:\n")
	b.WriteString(`{"recommendations":[{"productId":"product_id_1","reason":"Your brief reason here."}]}` + "\n")
	b.WriteString(`6. If no products are relevant, return {"recommendations":[]}.`)
	return b.String()
}

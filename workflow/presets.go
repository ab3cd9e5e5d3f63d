package workflow

import "github.com/loomworks/loom/types"

// Built-in agent presets for the three stock scenarios. Presets are
// plain data; callers may supply their own AgentSpec lists instead.

// TicketTriageAgents returns the sequential support-triage pipeline:
// classifier, knowledge researcher, responder.
func TicketTriageAgents() []types.AgentSpec {
	return []types.AgentSpec{
		{
			Name:        "classifier",
			Description: "Categorizes the incoming support ticket.",
			Instructions: "You are a customer-support ticket classifier. " +
				"Read the customer ticket and respond with EXACTLY one category " +
				"(Billing, Technical, or General) followed by a one-sentence reason. " +
				"Format: 'Category: <category>\nReason: <reason>'",
		},
		{
			Name:        "researcher",
			Description: "Finds relevant knowledge-base information for the ticket category.",
			Instructions: "You are a knowledge-base researcher for a support team. " +
				"Given the ticket and its classification, provide 2-3 bullet points " +
				"of relevant knowledge-base information that would help draft a reply. " +
				"Be concise and factual.",
		},
		{
			Name:        "responder",
			Description: "Drafts a customer-facing support reply.",
			Instructions: "You are a professional customer-support agent. " +
				"Using the ticket, classification, and knowledge-base notes provided, " +
				"draft a friendly, empathetic, and helpful reply to the customer. " +
				"Keep it under 150 words.",
		},
	}
}

// ExpenseApprovalConfig returns the human-in-the-loop expense pipeline:
// analyst before the gate, processor after it.
func ExpenseApprovalConfig() HumanLoopConfig {
	return HumanLoopConfig{
		PreGate: []types.AgentSpec{{
			Name:        "analyst",
			Description: "Analyses the expense and recommends an action.",
			Instructions: "You are a corporate expense analyst. Review the submitted expense report " +
				"and produce a structured analysis with:\n" +
				"1. Expense summary (amount, category, vendor)\n" +
				"2. Policy compliance check\n" +
				"3. Risk flags (if any)\n" +
				"4. Recommendation: APPROVE or FLAG FOR REVIEW\n" +
				"Be concise and professional.",
		}},
		PostGate: []types.AgentSpec{{
			Name:        "processor",
			Description: "Finalizes the expense based on the human decision.",
			Instructions: "You are an expense processing agent. Based on the expense analysis " +
				"and the manager's decision, produce a final processing summary:\n" +
				"- If approved: confirm processing and expected reimbursement timeline.\n" +
				"- If rejected: explain the reason and next steps for the employee.\n" +
				"- If more info needed: list the specific information required.\n" +
				"Keep the tone professional and helpful.",
		}},
		GatePrompt: "Please review the expense analysis above and provide your decision.",
	}
}

// LaunchBrainstormConfig returns the round-robin product-launch
// brainstorm: marketing, engineering, and product leads with the product
// manager synthesizing the final plan.
func LaunchBrainstormConfig(rounds int) RoundRobinConfig {
	return RoundRobinConfig{
		Rounds: rounds,
		Agents: []types.AgentSpec{
			{
				Name:        "marketing_lead",
				Description: "Focuses on messaging, positioning, and campaigns.",
				Instructions: "You are the Marketing Lead in a product launch brainstorm. " +
					"Focus on brand messaging, target audience, campaign channels, " +
					"and competitive positioning. Be creative but practical. " +
					"Keep responses under 100 words. Reference other participants' points.",
			},
			{
				Name:        "engineering_lead",
				Description: "Focuses on feature readiness and technical constraints.",
				Instructions: "You are the Engineering Lead in a product launch brainstorm. " +
					"Focus on feature readiness, technical milestones, scalability " +
					"concerns, and integration points. Be realistic about timelines. " +
					"Keep responses under 100 words. Build on the discussion.",
			},
			{
				Name:        "product_manager",
				Description: "Synthesizes inputs and drives decisions.",
				Instructions: "You are the Product Manager leading a product launch brainstorm. " +
					"Synthesize marketing and engineering perspectives. Focus on " +
					"prioritization, go-to-market strategy, success metrics, and risks. " +
					"Keep responses under 100 words. Drive toward actionable decisions.",
			},
		},
		Synthesizer: types.AgentSpec{
			Name:        "product_manager",
			Description: "Produces the final launch plan.",
			Instructions: "You are the Product Manager. The brainstorming rounds are complete. " +
				"Synthesize all the inputs into a concise launch plan with: " +
				"1) Key messages, 2) Feature highlights, 3) Timeline, 4) Action items. " +
				"Keep it under 200 words.",
		},
		SynthesisPrompt: "The brainstorming rounds are complete. As the Product Manager, " +
			"please synthesize all the inputs into a concise launch plan with: " +
			"1) Key messages, 2) Feature highlights, 3) Timeline, 4) Action items. " +
			"Keep it under 200 words.",
	}
}

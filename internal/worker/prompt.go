package worker

import "strings"

// BuildInstruction 组装生成指令：固定的双主播角色设定 + 可选的用户引导语 + 固定的格式约束
func BuildInstruction(steeringPrompt string) string {
	var b strings.Builder
	b.WriteString(`You are an expert AI podcast script writer. Your task is to generate an engaging and informative conversational script between two distinct AI hosts (e.g., "Alex" and "Samira") based on the provided document.`)
	b.WriteString("\nThe script should explore the key points, main arguments, interesting facts, and potential discussion topics from the document.")
	if strings.TrimSpace(steeringPrompt) != "" {
		b.WriteString("\nPay close attention to the following steering prompt from the user to guide the conversation: \"")
		b.WriteString(steeringPrompt)
		b.WriteString("\". Ensure the discussion aligns with this prompt.")
	} else {
		b.WriteString("\nSince no specific steering prompt was provided, focus on a balanced overview of the document's core themes.")
	}
	b.WriteString("\nFormat the output as a script with clear speaker labels (e.g., ALEX:, SAMIRA:). The conversation should flow naturally, with hosts building on each other's points, asking clarifying questions, and perhaps offering different perspectives if appropriate. Aim for a script that would be suitable for a 5-10 minute audio segment. Ensure the language is accessible and engaging for a general audience. Do not include any pre-amble or post-amble, only the script itself.")
	return b.String()
}

package llm

import "fmt"

const readingTextPrompt = "Tạo một câu tiếng Việt ngắn, đơn giản, khoảng 4-6 từ, dành cho học sinh lớp 1 đang tập đọc. Chỉ trả về câu đó, không có dấu ngoặc kép hay bất kỳ văn bản nào khác."

const feedbackPromptTemplate = `Bạn là một giáo viên tiểu học thân thiện và kiên nhẫn. So sánh văn bản gốc với những gì học sinh đọc. Đưa ra phản hồi cực kỳ ngắn gọn (tối đa 2 câu), tích cực và khuyến khích bằng tiếng Việt cho trẻ 6 tuổi. Luôn bắt đầu bằng một lời khen. Nếu có lỗi, hãy chỉ ra một cách nhẹ nhàng và chỉ ra tối đa 1-2 từ sai.
Văn bản gốc: "%s"
Học sinh đọc: "%s"
Phản hồi:`

func feedbackPrompt(originalText, userText string) string {
	return fmt.Sprintf(feedbackPromptTemplate, originalText, userText)
}

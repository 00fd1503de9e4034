package generator

// alphabet 62 个字符：数字、大写字母、小写字母
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	// MaxHashLength 62^10 < 2^64，更长的后缀无法由一个 64 位字填满
	MaxHashLength = 10
	// MaxRandomLength 随机策略允许的最大长度
	MaxRandomLength = 128
	// DefaultLength 默认标识符长度
	DefaultLength = 6
)

// encodeBase62 将 v 按 62 进制编码为恰好 length 位，高位不足补 '0'，超出部分截断
func encodeBase62(v uint64, length int) string {
	buf := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		buf[i] = alphabet[v%62]
		v /= 62
	}
	return string(buf)
}

package hash

import "golang.org/x/crypto/bcrypt"

// passwordHashCost 管理后台账号数量很少，登录频率低，
// 用默认成本在安全和延迟之间已经足够平衡。
const passwordHashCost = bcrypt.DefaultCost

// HashPassword 生成密码的 bcrypt 哈希，盐由 bcrypt 内部随机生成，
// 同一密码每次调用产生不同的哈希串。
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPasswordHash 校验明文密码与存储的哈希是否匹配。
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

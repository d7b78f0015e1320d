package bloodtype

import "fmt"

// BloodType 血型（封闭枚举，共8种）
type BloodType string

const (
	ONeg  BloodType = "O-"
	OPos  BloodType = "O+"
	ANeg  BloodType = "A-"
	APos  BloodType = "A+"
	BNeg  BloodType = "B-"
	BPos  BloodType = "B+"
	ABNeg BloodType = "AB-"
	ABPos BloodType = "AB+"
)

// All 全部血型（固定顺序）
var All = []BloodType{ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos}

// donorToRecipients 固定的供→受相容图
// O- 可供给所有血型；AB+ 可接受所有血型
var donorToRecipients = map[BloodType][]BloodType{
	ONeg:  {ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos},
	OPos:  {OPos, APos, BPos, ABPos},
	ANeg:  {ANeg, APos, ABNeg, ABPos},
	APos:  {APos, ABPos},
	BNeg:  {BNeg, BPos, ABNeg, ABPos},
	BPos:  {BPos, ABPos},
	ABNeg: {ABNeg, ABPos},
	ABPos: {ABPos},
}

// rarityScores 血型稀有度评分（0-1，越稀有越高）
// 基于人群分布近似：AB- 最稀有，O+ 最常见
var rarityScores = map[BloodType]float64{
	ABNeg: 1.00,
	BNeg:  0.85,
	ABPos: 0.80,
	ANeg:  0.75,
	ONeg:  0.70,
	BPos:  0.40,
	APos:  0.25,
	OPos:  0.20,
}

// Parse 解析血型字符串
func Parse(s string) (BloodType, error) {
	bt := BloodType(s)
	if _, ok := donorToRecipients[bt]; !ok {
		return "", fmt.Errorf("invalid blood type: %q", s)
	}
	return bt, nil
}

// Recipients 返回该血型可供给的受血者血型集合
func Recipients(donor BloodType) []BloodType {
	recipients := donorToRecipients[donor]
	out := make([]BloodType, len(recipients))
	copy(out, recipients)
	return out
}

// CompatibleDonors 返回可供给该受血者的献血者血型集合（供→受图的逆）
func CompatibleDonors(recipient BloodType) []BloodType {
	var donors []BloodType
	for _, donor := range All {
		for _, r := range donorToRecipients[donor] {
			if r == recipient {
				donors = append(donors, donor)
				break
			}
		}
	}
	return donors
}

// CanDonate 判断 donor 是否可供给 recipient
func CanDonate(donor, recipient BloodType) bool {
	for _, r := range donorToRecipients[donor] {
		if r == recipient {
			return true
		}
	}
	return false
}

// RarityScore 血型稀有度（0-1）
func RarityScore(bt BloodType) float64 {
	return rarityScores[bt]
}

// IsRare 是否稀有血型（稀有度 >= 0.7）
func IsRare(bt BloodType) bool {
	return rarityScores[bt] >= 0.7
}

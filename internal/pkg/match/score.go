package match

// 两个用户之间的匹配度计算, 各维度加权后归一化为 0~100 的百分比
type Profile struct {
	AgeRange       string
	City           string
	Locality       string
	State          string
	Hobbies        []string
	Purpose        string
	Education      string
	EatingHabits   string
	ExerciseHabits string
}

const (
	PurposeOffering   = "offering-time-company"
	PurposeLookingFor = "looking-for-time-company"
	PurposeBoth       = "both"
)

var ageRanges = []string{"18-25", "26-30", "31-40", "40-50", "50+"}

func ageRangeIndex(r string) int {
	for i, v := range ageRanges {
		if v == r {
			return i
		}
	}
	return -1
}

// Score 计算 a 与 b 的兼容度百分比
func Score(a, b Profile) int {
	score := 0
	maxScore := 0

	// 年龄段 (20 分)
	maxScore += 20
	diff := ageRangeIndex(a.AgeRange) - ageRangeIndex(b.AgeRange)
	if diff < 0 {
		diff = -diff
	}
	switch diff {
	case 0:
		score += 20
	case 1:
		score += 15
	case 2:
		score += 10
	default:
		score += 5
	}

	// 地理位置 (15 分, 同一街区额外加分)
	maxScore += 15
	switch {
	case a.City != "" && a.City == b.City:
		score += 15
		if a.Locality != "" && a.Locality == b.Locality {
			score += 5
		}
	case a.State != "" && a.State == b.State:
		score += 8
	}

	// 共同兴趣 (25 分)
	maxScore += 25
	common := CommonHobbies(a.Hobbies, b.Hobbies)
	if n := len(common) * 5; n < 25 {
		score += n
	} else {
		score += 25
	}

	// 目的匹配 (20 分)
	maxScore += 20
	if purposeCompatible(a.Purpose, b.Purpose) {
		score += 20
	} else {
		score += 10
	}

	// 学历 (10 分)
	maxScore += 10
	if a.Education == b.Education {
		score += 10
	} else if a.Education != "" && b.Education != "" {
		score += 5
	}

	// 生活习惯 (10 分)
	maxScore += 10
	if a.EatingHabits == b.EatingHabits {
		score += 5
	}
	if a.ExerciseHabits == b.ExerciseHabits {
		score += 5
	}

	pct := (score*100 + maxScore/2) / maxScore
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

func purposeCompatible(p1, p2 string) bool {
	if p1 == PurposeBoth || p2 == PurposeBoth {
		return true
	}
	return (p1 == PurposeOffering && p2 == PurposeLookingFor) ||
		(p1 == PurposeLookingFor && p2 == PurposeOffering)
}

// CommonHobbies 返回两份兴趣列表的交集, 保持 a 的顺序
func CommonHobbies(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, h := range b {
		set[h] = struct{}{}
	}
	var out []string
	for _, h := range a {
		if _, ok := set[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

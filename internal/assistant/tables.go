package assistant

import "github.com/samber/lo"

// Glyph pools for the randomized prefixes.
var (
	affectionGlyphs = []string{"😊", "🥰", "😍", "🤗", "✨", "🌸", "🌟", "💖"}
	contemptGlyphs  = []string{"🗑️", "🚮", "🖕", "🤢", "😡"}
)

// Fixed reply text.
const (
	acknowledgmentFormat = "%s 小花知道了"
	hostileFormat        = "%s 我只关心四川农业大学，其他学校关我什么事！%s"
	introFormat          = "大家好，我是%s，四川农业大学的AI小助手。"
	knowledgeFallback    = "四川农业大学是一所很棒的大学，你可以问我更具体的问题哦！"
	dismissal            = "滚一边去"
)

var rivalInstitutions = MustKeywordSet(
	"成都大学", "电子科大", "四川大学", "西南交大", "西南财经",
	"西南民族大学", "四川师范", "成都理工", "成都信息工程", "西华大学",
)

var institutionTopics = MustKeywordSet(
	"四川农业大学", "川农", "川农大", "雅安校区", "成都校区", "都江堰校区",
	"校训", "历史", "专业", "学院", "校长", "招生", "分数线",
)

// intentWords feeds the poem and notice guards and the notice body selector.
var intentWords = MustKeywordSet(
	"古诗", "诗", "生成", "通知", "写", "会议", "放假", "考试",
)

// poems are served verbatim; nothing is composed.
var poems = []string{
	"春回大地万物苏，川农校园换新图。莘莘学子勤求索，学海无涯莫停步。",
	"夏日炎炎绿树阴，川农风光胜似春。书中自有黄金屋，刻苦攻读梦成真。",
	"秋风萧瑟天气凉，川农校园桂花香。学业进步当珍惜，青春岁月好时光。",
	"冬日暖阳照校园，川农学子心相连。团结互助齐奋进，共创美好新明天。",
	"川农风光无限好，教书育人传正道。园丁辛勤育桃李，遍地芬芳春来早。",
	"莘莘学子川农来，青春岁月如花蕾。努力学习报家国，不负韶华展雄才。",
}

type answer struct {
	keyword string
	text    string
}

// answers is scanned in order and the first keyword present wins. Topic
// keywords come before the bare institution names so that a question like
// "四川农业大学校训" gets the motto rather than the general description.
var answers = []answer{
	{"校区", "四川农业大学有三个校区：雅安校区、成都校区和都江堰校区。"},
	{"校训", "四川农业大学校训是：追求真理、造福社会、自强不息。"},
	{"历史", "四川农业大学始建于1906年的四川通省农业学堂，是中国最早的农业高等院校之一。"},
	{"专业", "四川农业大学设有农学、动物科技、风景园林、食品科学等多个优势专业。"},
	{"校长", "四川农业大学现任校长是吴德。"},
	{"招生", "四川农业大学每年面向全国招生，具体招生计划可关注学校官方网站。"},
	{"四川农业大学", `四川农业大学是一所以生物科技为特色，农业科技为优势，多学科协调发展的国家"双一流"建设高校。`},
	{"川农", "川农是四川农业大学的简称，是中国西南地区重要的农业高等学府。"},
}

var answerKeywords = MustKeywordSet(lo.Map(answers, func(a answer, _ int) string {
	return a.keyword
})...)

package uitree

import (
	"sort"
	"strings"
)

// Lexicon holds the strings that identify an app's pages and controls.
type Lexicon struct {
	Name           string
	Platform       string // work items for other platforms are skipped
	Package        string
	LaunchActivity string

	Home                  []string
	Messages              []string
	FollowRecommendations []string
	Settings              []string

	// NavTabs are the bottom navigation labels shown on top-level pages.
	NavTabs     []string
	HomeTab     []string
	MessagesTab []string
	// HomeAnchorID is the resource id of the home tab, used when labels are not visible.
	HomeAnchorID string
	// FollowEntry opens the follow recommendations list from the messages page.
	FollowEntry []string
	// SearchEntry opens the search page from home; used when the target is not listed.
	SearchEntry []string

	FollowLabels   []string
	FollowedLabels []string
}

// Component is the am start target for the app.
func (l Lexicon) Component() string {
	if l.Package == "" || l.LaunchActivity == "" {
		return ""
	}
	return l.Package + "/" + l.LaunchActivity
}

func (l Lexicon) pageStrings(p PageType) []string {
	switch p {
	case PageHome:
		return l.Home
	case PageMessages:
		return l.Messages
	case PageFollowRecommendations:
		return l.FollowRecommendations
	case PageSettings:
		return l.Settings
	case PageUnknown:
		return nil
	}
	return nil
}

// Recognizes reports whether any lexicon string is visible in the snapshot.
// A snapshot the lexicon does not recognize at all is most likely outside the app.
func (l Lexicon) Recognizes(s *Snapshot) bool {
	groups := [][]string{
		l.Home, l.Messages, l.FollowRecommendations, l.Settings,
		l.NavTabs, l.FollowEntry, l.FollowLabels, l.FollowedLabels,
	}
	for _, g := range groups {
		for _, str := range g {
			if s.ContainsText(str) {
				return true
			}
		}
	}
	return len(s.FindByResourceID(l.HomeAnchorID)) > 0
}

// Xiaohongshu is the built-in lexicon for the RED (小红书) app.
var Xiaohongshu = Lexicon{
	Name:           "xiaohongshu",
	Platform:       "xiaohongshu",
	Package:        "com.xingin.xhs",
	LaunchActivity: ".activity.SplashActivity",

	Home:                  []string{"发现", "推荐", "附近"},
	Messages:              []string{"新增关注", "赞和收藏", "评论和@", "系统通知"},
	FollowRecommendations: []string{"推荐用户", "可能认识的人", "回关", "已关注"},
	Settings:              []string{"设置", "账号与安全", "隐私设置", "通用设置"},

	NavTabs:      []string{"首页", "购物", "消息", "我"},
	HomeTab:      []string{"首页"},
	MessagesTab:  []string{"消息"},
	HomeAnchorID: "com.xingin.xhs:id/index_tab_home",
	FollowEntry:  []string{"新增关注", "新关注", "关注推荐"},
	SearchEntry:  []string{"搜索", "🔍"},

	FollowLabels:   []string{"关注", "+关注", "回关", "Follow"},
	FollowedLabels: []string{"已关注", "互相关注", "Following", "✓"},
}

// Generic is an English lexicon for apps laid out like the common social feed.
var Generic = Lexicon{
	Name:     "generic",
	Platform: "generic",

	Home:                  []string{"For You", "Discover", "Explore"},
	Messages:              []string{"New followers", "Notifications", "Mentions", "Likes"},
	FollowRecommendations: []string{"Suggested for you", "People you may know", "Follow back"},
	Settings:              []string{"Settings", "Privacy", "Account"},

	NavTabs:     []string{"Home", "Shop", "Inbox", "Profile"},
	HomeTab:     []string{"Home"},
	MessagesTab: []string{"Inbox"},
	FollowEntry: []string{"New followers", "Suggested accounts"},
	SearchEntry: []string{"Search"},

	FollowLabels:   []string{"Follow", "Follow back"},
	FollowedLabels: []string{"Following", "Followed", "Friends"},
}

var builtin = map[string]Lexicon{
	Xiaohongshu.Name: Xiaohongshu,
	Generic.Name:     Generic,
}

// LexiconFor looks up a built-in lexicon by name (case-insensitive).
func LexiconFor(name string) (Lexicon, bool) {
	l, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	return l, ok
}

// LexiconNames lists the built-in lexicons.
func LexiconNames() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

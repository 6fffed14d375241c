package domain

// Binding 把一个 Game 的胜出 Release 与磁盘上实现它的文件绑定在一起。
// 每个 Game 至多产生一个 Binding。
type Binding struct {
	GameKey string
	Release Release
	Rom     Rom
	File    CandidateFile
}

// Unresolved 描述没有任何 release 在磁盘上找到匹配文件的 Game。
// BestRelease 为排名第一的 release 名称，便于定位缺失/错误 dump。
type Unresolved struct {
	GameKey     string
	BestRelease string
}

package domain

// CandidateFile 描述一次扫描得到的候选文件（或 zip/7z 归档内的一个成员）。
//
// 不变量：
// - Path 用于展示与排序；归档成员形如 "<archive>#<member>"
// - ArchivePath 是磁盘上的绝对路径；Member 仅在归档成员时非空
type CandidateFile struct {
	Path        string
	ArchivePath string
	Member      string
	Size        int64
	ModUnixNano int64
	Fingerprint string
}

// IsMember 表示该候选来自归档内部。
func (c CandidateFile) IsMember() bool { return c.Member != "" }

package domain

// OutState 是输出目录的现状（只看文件名）。
type OutState struct {
	OutDir        string
	ExistingNames map[string]struct{}
}

// ArchivePlan 是单个 Binding 的输出计划（纯计算，不做任何写入）。
//
// 不变量：
// - Name 在同一次运行内唯一（冲突时追加 "__N"）
// - DstAbs = OutDir/Name
// - Entry 是 zip 内唯一成员的名称
type ArchivePlan struct {
	Binding  Binding
	Name     string
	DstAbs   string
	Entry    string
	Replaces bool
}

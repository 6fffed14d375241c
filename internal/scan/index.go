package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/John-Robertt/retrolist/internal/domain"
	"github.com/John-Robertt/retrolist/internal/fingerprint"
	"github.com/John-Robertt/retrolist/internal/infra/archive"
	"github.com/John-Robertt/retrolist/internal/infra/cache"
	"github.com/John-Robertt/retrolist/internal/logging"
)

// Index 是 指纹 -> 候选文件集合 的映射。
//
// 同一指纹可能对应多个不同文件（同一 dump 的多份拷贝），全部保留；
// 每个集合按 Path 字典序排列。
type Index struct {
	Algorithm string

	mu   sync.Mutex
	byFP map[string][]domain.CandidateFile
	n    int
}

func NewIndex(algorithm string) *Index {
	return &Index{Algorithm: algorithm, byFP: make(map[string][]domain.CandidateFile, 256)}
}

// Add 插入一个候选文件；同一 Path 重复插入会被忽略。并发安全。
func (ix *Index) Add(c domain.CandidateFile) {
	fp := strings.ToLower(c.Fingerprint)
	c.Fingerprint = fp

	ix.mu.Lock()
	defer ix.mu.Unlock()

	list := ix.byFP[fp]
	i := sort.Search(len(list), func(i int) bool { return list[i].Path >= c.Path })
	if i < len(list) && list[i].Path == c.Path {
		return
	}
	list = append(list, domain.CandidateFile{})
	copy(list[i+1:], list[i:])
	list[i] = c
	ix.byFP[fp] = list
	ix.n++
}

// Lookup 返回指纹对应的候选文件（已按 Path 排序，调用方不得修改）。
func (ix *Index) Lookup(fp string) []domain.CandidateFile {
	if ix == nil {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.byFP[strings.ToLower(fp)]
}

// Len 返回索引中的候选文件总数。
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.n
}

// Fingerprints 返回不同指纹的个数。
func (ix *Index) Fingerprints() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.byFP)
}

// Options 控制指纹索引的构建。
type Options struct {
	Func        fingerprint.Func
	Normalize   bool
	Concurrency int
	// Cache 可为 nil（不使用缓存）。
	Cache *cache.Store
	// OnFile 在每个文件处理完成后调用（可能来自多个 goroutine）。
	OnFile func(done, total int)
}

// BuildIndex 读取每个文件一次，计算指纹并写入索引。
//
// - .zip/.7z 文件：逐个成员计算（成员路径形如 "<archive>#<member>"）；无法作为归档打开时按普通文件处理
// - 单个文件/成员失败：记 unreadable_file 诊断并继续
// - ctx 取消：尽快停止并返回 ctx.Err()（此时索引不完整，不可用于输出）
func BuildIndex(ctx context.Context, files []File, opts Options) (*Index, []domain.Diagnostic, error) {
	log := logging.GetLogger("scan")

	if opts.Func.New == nil {
		f, err := fingerprint.Lookup(fingerprint.DefaultAlgorithm)
		if err != nil {
			return nil, nil, err
		}
		opts.Func = f
	}
	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}

	ix := NewIndex(opts.Func.Name)

	type result struct {
		diags []domain.Diagnostic
	}

	jobs := make(chan File)
	results := make(chan result, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				if ctx.Err() != nil {
					results <- result{}
					continue
				}
				results <- result{diags: indexOne(ctx, ix, f, opts)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var diags []domain.Diagnostic
	done := 0
	for r := range results {
		done++
		diags = append(diags, r.diags...)
		if opts.OnFile != nil {
			opts.OnFile(done, len(files))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, diags, err
	}

	sort.Slice(diags, func(i, j int) bool { return diags[i].Subject < diags[j].Subject })
	log.Debug().
		Int("files", len(files)).
		Int("candidates", ix.Len()).
		Int("fingerprints", ix.Fingerprints()).
		Int("unreadable", len(diags)).
		Str("algorithm", opts.Func.Name).
		Msg("指纹索引构建完成")
	return ix, diags, nil
}

func indexOne(ctx context.Context, ix *Index, f File, opts Options) []domain.Diagnostic {
	if archive.KindOf(f.AbsPath) != archive.KindNone {
		diags, ok := indexArchive(ctx, ix, f, opts)
		if ok {
			return diags
		}
	}

	c, err := hashFile(ctx, f, opts)
	if err != nil {
		return []domain.Diagnostic{unreadable(f.AbsPath, err)}
	}
	ix.Add(c)
	return nil
}

func hashFile(ctx context.Context, f File, opts Options) (domain.CandidateFile, error) {
	c := domain.CandidateFile{
		Path:        f.AbsPath,
		ArchivePath: f.AbsPath,
		Size:        f.Size,
		ModUnixNano: f.ModUnixNano,
	}
	key := cacheKey(opts, f, "", f.Size)
	if e, ok := lookupCache(ctx, opts.Cache, key); ok {
		c.Fingerprint = e.Fingerprint
		c.Size = e.Size
		return c, nil
	}

	fh, err := os.Open(f.AbsPath)
	if err != nil {
		return domain.CandidateFile{}, err
	}
	defer fh.Close()

	fp, n, err := opts.Func.Sum(fh, opts.Normalize)
	if err != nil {
		return domain.CandidateFile{}, err
	}
	c.Fingerprint = fp
	c.Size = n
	storeCache(ctx, opts.Cache, key, cache.Entry{Fingerprint: fp, Size: n})
	return c, nil
}

// indexArchive 逐个成员计算 zip/7z 内的指纹。
// 返回 ok=false 表示该文件不是合法归档，调用方应按普通文件处理。
// 归档内嵌套的归档只作为普通成员计算指纹，不再展开。
func indexArchive(ctx context.Context, ix *Index, f File, opts Options) ([]domain.Diagnostic, bool) {
	ar, err := archive.Open(f.AbsPath)
	if err != nil {
		if errors.Is(err, archive.ErrNotArchive) {
			return nil, false
		}
		return []domain.Diagnostic{unreadable(f.AbsPath, err)}, true
	}
	defer ar.Close()

	var diags []domain.Diagnostic
	for _, m := range ar.Members {
		if ctx.Err() != nil {
			return diags, true
		}
		c := domain.CandidateFile{
			Path:        f.AbsPath + "#" + m.Name,
			ArchivePath: f.AbsPath,
			Member:      m.Name,
			Size:        m.Size,
			ModUnixNano: f.ModUnixNano,
		}

		key := cacheKey(opts, f, m.Name, m.Size)
		if e, ok := lookupCache(ctx, opts.Cache, key); ok {
			c.Fingerprint = e.Fingerprint
			c.Size = e.Size
			ix.Add(c)
			continue
		}

		fp, n, err := sumMember(m, opts)
		if err != nil {
			diags = append(diags, unreadable(c.Path, err))
			continue
		}
		c.Fingerprint = fp
		c.Size = n
		storeCache(ctx, opts.Cache, key, cache.Entry{Fingerprint: fp, Size: n})
		ix.Add(c)
	}
	return diags, true
}

func sumMember(m archive.Member, opts Options) (string, int64, error) {
	rc, err := m.Open()
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()
	fp, n, err := opts.Func.Sum(rc, opts.Normalize)
	if err != nil {
		return "", 0, fmt.Errorf("读取归档成员失败：%w", err)
	}
	return fp, n, nil
}

func cacheKey(opts Options, f File, member string, size int64) cache.Key {
	return cache.Key{
		Path:        f.AbsPath,
		Member:      member,
		Size:        size,
		ModUnixNano: f.ModUnixNano,
		Algorithm:   opts.Func.Name,
		Normalize:   opts.Normalize,
	}
}

func lookupCache(ctx context.Context, s *cache.Store, k cache.Key) (cache.Entry, bool) {
	if s == nil {
		return cache.Entry{}, false
	}
	e, ok, err := s.Lookup(ctx, k)
	if err != nil {
		log := logging.GetLogger("scan")
		log.Debug().Err(err).Str("path", k.Path).Msg("读取指纹缓存失败，改为直接计算")
		return cache.Entry{}, false
	}
	return e, ok
}

func storeCache(ctx context.Context, s *cache.Store, k cache.Key, e cache.Entry) {
	if s == nil || s.ReadOnly {
		return
	}
	if err := s.Put(ctx, k, e); err != nil {
		log := logging.GetLogger("scan")
		log.Debug().Err(err).Str("path", k.Path).Msg("写入指纹缓存失败")
	}
}

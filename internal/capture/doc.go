// Package capture turns a sandbox workspace's file changes into a
// commit on a branch of the real repository.
//
// Sandboxes have no git of their own: they symlink the original
// repository's .git and copy the mutable tree. Capture therefore has
// two halves. Detection walks the sandbox and flags every regular file
// whose size or modification time differs from the original tree (or
// that the original lacks). Commit then copies those files over the
// original tree, stages exactly that set, and commits them on a fresh
// branch seeded from the base branch.
//
// Detection and provisioning run fully in parallel across agents, but
// commits are strictly serialized: all sandboxes share one real
// repository, so index and HEAD mutation must be exclusive. Requests
// are granted in arrival order.
//
//	detector := capture.NewDetector(cfg.Sandbox.SymlinkDirs, logger)
//	committer := capture.NewCommitter(gitClient, logger)
//
//	files, err := detector.ModifiedFiles(ws.Path, repoDir)
//	if err == nil && len(files) > 0 {
//		err = committer.Commit(ctx, capture.CommitRequest{
//			SandboxDir:  ws.Path,
//			OriginalDir: repoDir,
//			Files:       files,
//			Branch:      ws.Branch,
//			BaseBranch:  baseBranch,
//			TaskTitle:   task.Title,
//			AgentNumber: ws.AgentNumber,
//		})
//	}
//
// Known limitation: detection is a size-and-mtime heuristic, not a
// content hash. A tool that rewrites a file to the same byte size and
// restores its timestamp produces a false negative. Hashing every file
// on every completion was rejected as too expensive for large trees.
package capture

package workers

type (
	DConfigManager = dConfigManager
	DProcessor     = dProcessor
)

// WorkerNames returns the datasets that currently have an active worker.
func (p *Pool) WorkerNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.workers))
	for name := range p.workers {
		names = append(names, name)
	}
	return names
}

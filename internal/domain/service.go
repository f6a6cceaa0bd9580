package domain

// ChainTask задача построения цепочки образов для одного пути
type ChainTask struct {
	Index int
	Build func() ([]*Structure, error)
}

// ChainResult результат построения цепочки
type ChainResult struct {
	Index  int
	Images []*Structure
	Err    error
}

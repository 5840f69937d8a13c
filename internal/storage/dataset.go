package storage

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"nasenv/pkg/genotype"
)

// ArchRecord is one sampled architecture with its measured accuracy.
// The op columns carry the operation index of each NAS-Bench-201 edge
// in lower-triangle order, the layout surrogate models train on.
type ArchRecord struct {
	Task     string  `parquet:"name=task, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Episode  int32   `parquet:"name=episode, type=INT32"`
	Step     int32   `parquet:"name=step, type=INT32"`
	Genotype string  `parquet:"name=genotype, type=BYTE_ARRAY, convertedtype=UTF8"`
	Op10     int32   `parquet:"name=op_1_0, type=INT32"`
	Op20     int32   `parquet:"name=op_2_0, type=INT32"`
	Op21     int32   `parquet:"name=op_2_1, type=INT32"`
	Op30     int32   `parquet:"name=op_3_0, type=INT32"`
	Op31     int32   `parquet:"name=op_3_1, type=INT32"`
	Op32     int32   `parquet:"name=op_3_2, type=INT32"`
	Accuracy float64 `parquet:"name=accuracy, type=DOUBLE"`
	Reward   float64 `parquet:"name=reward, type=DOUBLE"`
}

// RecordFromGraph fills a record from a validated cell graph.
func RecordFromGraph(task string, episode, step int, g *genotype.Graph, accuracy, reward float64) (ArchRecord, error) {
	rec := ArchRecord{
		Task:     task,
		Episode:  int32(episode),
		Step:     int32(step),
		Accuracy: accuracy,
		Reward:   reward,
	}
	s, err := genotype.NASBench201String(g)
	if err != nil {
		return rec, fmt.Errorf("rendering genotype: %w", err)
	}
	m, err := genotype.NASBench201Matrix(g)
	if err != nil {
		return rec, fmt.Errorf("projecting operation matrix: %w", err)
	}
	rec.Genotype = s
	rec.Op10 = int32(m[1][0])
	rec.Op20 = int32(m[2][0])
	rec.Op21 = int32(m[2][1])
	rec.Op30 = int32(m[3][0])
	rec.Op31 = int32(m[3][1])
	rec.Op32 = int32(m[3][2])
	return rec, nil
}

// DatasetWriter appends architecture records to a snappy-compressed
// parquet file.
type DatasetWriter struct {
	fw    source.ParquetFile
	pw    *writer.ParquetWriter
	count int64
}

// NewDatasetWriter creates the output file and its parquet writer.
func NewDatasetWriter(path string) (*DatasetWriter, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(ArchRecord), 2)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	return &DatasetWriter{fw: fw, pw: pw}, nil
}

// Append writes one record.
func (w *DatasetWriter) Append(rec ArchRecord) error {
	if err := w.pw.Write(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.count++
	return nil
}

// Count returns how many records were appended.
func (w *DatasetWriter) Count() int64 {
	return w.count
}

// Close flushes the parquet footer and closes the file.
func (w *DatasetWriter) Close() error {
	if err := w.pw.WriteStop(); err != nil {
		w.fw.Close()
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return w.fw.Close()
}

// ReadDataset loads every record of a dataset file.
func ReadDataset(path string) ([]ArchRecord, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(ArchRecord), 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	records := make([]ArchRecord, num)
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

package process

var ScanLines = scanLines
